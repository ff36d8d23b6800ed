package domain

import "time"

// AlertKind identifies an engine event.
type AlertKind string

const (
	AlertMetadataReceived AlertKind = "metadata_received"
	AlertStateChanged     AlertKind = "state_changed"
	AlertTorrentFinished  AlertKind = "torrent_finished"
	AlertTorrentPaused    AlertKind = "torrent_paused"
	AlertResumeData       AlertKind = "save_resume_data"
	AlertResumeDataFailed AlertKind = "save_resume_data_failed"
	AlertTorrentRemoved   AlertKind = "torrent_removed"
	AlertTorrentError     AlertKind = "torrent_error"
)

// Alert is consumed exactly once by whoever pops it from the engine queue.
type Alert struct {
	Kind     AlertKind
	InfoHash string
	Message  string
	Data     []byte
	Err      error
	At       time.Time
}
