package ports

import (
	"context"
	"time"

	"torrent2http/internal/domain"
)

// Swarm is the session-level side of the swarm engine. Implementations are
// safe for concurrent use.
type Swarm interface {
	AddTorrent(ctx context.Context, params AddTorrentParams) (Torrent, error)
	// RemoveTorrent completes asynchronously with an AlertTorrentRemoved.
	RemoveTorrent(t Torrent, deleteFiles bool) error
	PopAlerts() []domain.Alert
	// WaitForAlert blocks until at least one alert is queued or the timeout
	// elapses. It does not consume the alert.
	WaitForAlert(timeout time.Duration) bool
	SaveState() ([]byte, error)
	ListenPort() int
	Close() error
}

type AddTorrentParams struct {
	URI        string
	SavePath   string
	ResumeData []byte
	Trackers   []string
}

// Torrent is a handle to one torrent inside the swarm.
type Torrent interface {
	InfoHash() string
	SavePath() string
	Status() domain.TorrentStatus
	HasMetadata() bool
	Metadata() (domain.Metadata, error)
	HavePiece(piece int) bool
	PiecePriority(piece int) int
	SetPieceDeadline(piece int, deadline time.Duration)
	FilePriorities() []int
	SetFilePriority(index, priority int)
	FileProgress() []int64
	Peers() []domain.PeerInfo
	Trackers() []domain.TrackerInfo
	// SaveResumeData completes asynchronously with AlertResumeData or
	// AlertResumeDataFailed.
	SaveResumeData()
	// Pause completes asynchronously with AlertTorrentPaused.
	Pause()
}
