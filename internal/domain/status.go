package domain

// TorrentState mirrors the life-cycle states reported by the swarm engine.
type TorrentState int

const (
	StateQueuedForChecking TorrentState = iota
	StateCheckingFiles
	StateDownloadingMetadata
	StateDownloading
	StateFinished
	StateSeeding
	StateAllocating
	StateCheckingResumeData
)

var stateStrings = map[TorrentState]string{
	StateQueuedForChecking:   "queued_for_checking",
	StateCheckingFiles:       "checking_files",
	StateDownloadingMetadata: "downloading_metadata",
	StateDownloading:         "downloading",
	StateFinished:            "finished",
	StateSeeding:             "seeding",
	StateAllocating:          "allocating",
	StateCheckingResumeData:  "checking_resume_data",
}

func (s TorrentState) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// Checking reports whether the engine is still verifying existing data.
func (s TorrentState) Checking() bool {
	return s == StateQueuedForChecking || s == StateCheckingFiles || s == StateCheckingResumeData
}

// Done reports whether every wanted piece has been downloaded.
func (s TorrentState) Done() bool {
	return s == StateFinished || s == StateSeeding
}

// TorrentStatus is a point-in-time snapshot of a torrent handle. Rates are in
// bytes per second.
type TorrentStatus struct {
	Name          string
	HasMetadata   bool
	State         TorrentState
	Paused        bool
	Error         string
	Progress      float64
	DownloadRate  int64
	UploadRate    int64
	TotalDownload int64
	TotalUpload   int64
	NumPeers      int
	NumSeeds      int
	NumComplete   int
	NumIncomplete int
}
