package catalog

import (
	"sync"
	"time"

	"torrent2http/internal/domain"
)

type deadlineCall struct {
	piece    int
	deadline time.Duration
}

type priorityCall struct {
	index int
	prio  int
}

// fakeTorrent is an in-memory ports.Torrent. Pieces become available through
// complete.
type fakeTorrent struct {
	mu         sync.Mutex
	savePath   string
	meta       domain.Metadata
	hasMeta    bool
	have       map[int]bool
	filePrio   []int
	progress   []int64
	deadlines  []deadlineCall
	priorities []priorityCall
	status     domain.TorrentStatus
}

func newFakeTorrent(savePath string, meta domain.Metadata) *fakeTorrent {
	return &fakeTorrent{
		savePath: savePath,
		meta:     meta,
		hasMeta:  true,
		have:     make(map[int]bool),
		filePrio: make([]int, len(meta.Files)),
		progress: make([]int64, len(meta.Files)),
	}
}

func (f *fakeTorrent) InfoHash() string { return "0123456789abcdef0123456789abcdef01234567" }
func (f *fakeTorrent) SavePath() string { return f.savePath }

func (f *fakeTorrent) Status() domain.TorrentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTorrent) HasMetadata() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasMeta
}

func (f *fakeTorrent) setHasMetadata(v bool) {
	f.mu.Lock()
	f.hasMeta = v
	f.mu.Unlock()
}

func (f *fakeTorrent) Metadata() (domain.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasMeta {
		return domain.Metadata{}, domain.ErrMetadataUnavailable
	}
	return f.meta, nil
}

func (f *fakeTorrent) HavePiece(piece int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.have[piece]
}

func (f *fakeTorrent) complete(pieces ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pieces {
		f.have[p] = true
	}
}

// PiecePriority is the highest priority among files overlapping piece.
func (f *fakeTorrent) PiecePriority(piece int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := int64(piece) * f.meta.PieceLength
	end := start + f.meta.PieceLength
	best := 0
	for i, file := range f.meta.Files {
		if file.Offset < end && file.Offset+file.Size > start && f.filePrio[i] > best {
			best = f.filePrio[i]
		}
	}
	return best
}

func (f *fakeTorrent) SetPieceDeadline(piece int, deadline time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadlines = append(f.deadlines, deadlineCall{piece: piece, deadline: deadline})
}

func (f *fakeTorrent) FilePriorities() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.filePrio...)
}

func (f *fakeTorrent) SetFilePriority(index, prio int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filePrio[index] = prio
	f.priorities = append(f.priorities, priorityCall{index: index, prio: prio})
}

func (f *fakeTorrent) FileProgress() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.progress...)
}

func (f *fakeTorrent) Peers() []domain.PeerInfo       { return nil }
func (f *fakeTorrent) Trackers() []domain.TrackerInfo { return nil }
func (f *fakeTorrent) SaveResumeData()                {}
func (f *fakeTorrent) Pause()                         {}

func (f *fakeTorrent) deadlineCalls() []deadlineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deadlineCall(nil), f.deadlines...)
}

func (f *fakeTorrent) priorityCalls() []priorityCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]priorityCall(nil), f.priorities...)
}

func (f *fakeTorrent) resetCalls() {
	f.mu.Lock()
	f.deadlines = nil
	f.priorities = nil
	f.mu.Unlock()
}
