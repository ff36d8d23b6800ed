package domain

// PeerFlags is a bit set describing a peer connection.
type PeerFlags uint32

const (
	PeerInteresting PeerFlags = 1 << iota
	PeerChoked
	PeerRemoteInterested
	PeerRemoteChoked
	PeerSeed
	PeerConnecting
	PeerHandshake
	PeerEncrypted
	PeerUTP
)

// Established reports whether the peer finished connecting and handshaking.
func (f PeerFlags) Established() bool {
	return f&(PeerConnecting|PeerHandshake) == 0
}

type PeerInfo struct {
	Addr          string
	Client        string
	Source        string
	Flags         PeerFlags
	DownloadRate  int64
	UploadRate    int64
	TotalDownload int64
	TotalUpload   int64
}

type TrackerInfo struct {
	URL       string
	Tier      int
	Fails     int
	FailLimit int
	Verified  bool
	Updating  bool
}
