package apihttp

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"torrent2http/internal/domain"
	"torrent2http/internal/services/torrent/catalog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTorrent serves a fully downloaded torrent unless pieces are withheld.
type fakeTorrent struct {
	mu       sync.Mutex
	savePath string
	meta     domain.Metadata
	missing  map[int]bool
	prio     []int
	status   domain.TorrentStatus
	peers    []domain.PeerInfo
	trackers []domain.TrackerInfo
}

func (f *fakeTorrent) InfoHash() string { return "aa55aa55aa55aa55aa55aa55aa55aa55aa55aa55" }
func (f *fakeTorrent) SavePath() string { return f.savePath }

func (f *fakeTorrent) Status() domain.TorrentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTorrent) HasMetadata() bool                  { return true }
func (f *fakeTorrent) Metadata() (domain.Metadata, error) { return f.meta, nil }

func (f *fakeTorrent) HavePiece(piece int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.missing[piece]
}

func (f *fakeTorrent) PiecePriority(int) int { return domain.FilePriorityNormal }

func (f *fakeTorrent) SetPieceDeadline(int, time.Duration) {}

func (f *fakeTorrent) FilePriorities() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.prio...)
}

func (f *fakeTorrent) SetFilePriority(index, priority int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prio[index] = priority
}

func (f *fakeTorrent) FileProgress() []int64 {
	out := make([]int64, len(f.meta.Files))
	for i, e := range f.meta.Files {
		out[i] = e.Size
	}
	return out
}

func (f *fakeTorrent) Peers() []domain.PeerInfo       { return f.peers }
func (f *fakeTorrent) Trackers() []domain.TrackerInfo { return f.trackers }
func (f *fakeTorrent) SaveResumeData()                {}
func (f *fakeTorrent) Pause()                         {}

type fakeTrigger struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeTrigger) Fire(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

func (f *fakeTrigger) fired() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

var testModTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// newGateway builds a Server over a two-file torrent: movie.mp4 (1000 bytes)
// and extras/notes.txt (24 bytes), both present on disk.
func newGateway(t *testing.T, opts ...ServerOption) (*Server, *fakeTorrent, []byte) {
	t.Helper()
	dir := t.TempDir()
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	notes := []byte("subtitles go here......\n")

	writeFile(t, filepath.Join(dir, "movie.mp4"), payload)
	writeFile(t, filepath.Join(dir, "extras", "notes.txt"), notes)

	torrent := &fakeTorrent{
		savePath: dir,
		meta: domain.Metadata{
			Name:        "movie",
			PieceLength: 256,
			NumPieces:   5,
			Files: []domain.FileEntry{
				{Index: 0, Path: "movie.mp4", Size: int64(len(payload)), Offset: 0, ModTime: testModTime},
				{Index: 1, Path: "extras/notes.txt", Size: int64(len(notes)), Offset: int64(len(payload)), ModTime: testModTime},
			},
		},
		missing: make(map[int]bool),
		prio:    make([]int, 2),
	}
	return serveTorrent(t, torrent, opts...), torrent, payload
}

// serveTorrent starts a catalog over torrent and wraps it in a Server.
func serveTorrent(t *testing.T, torrent *fakeTorrent, opts ...ServerOption) *Server {
	t.Helper()
	cat := catalog.New(torrent, catalog.Options{
		StartIndex:   -1,
		PollInterval: 5 * time.Millisecond,
		Logger:       discardLogger(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := cat.WaitForMetadata(ctx); err != nil {
		t.Fatalf("WaitForMetadata: %v", err)
	}
	cat.RefreshProgress()

	opts = append([]ServerOption{WithLogger(discardLogger()), WithAddr("127.0.0.1:5001")}, opts...)
	srv := NewServer(cat, torrent, opts...)
	t.Cleanup(func() {
		cat.Close()
		srv.Close()
	})
	return srv
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}
