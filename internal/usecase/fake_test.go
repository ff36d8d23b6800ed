package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder collects calls from the fakes in the order they happen.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// fakeSwarm is an in-memory ports.Swarm. When confirm is set, removals are
// acknowledged with an AlertTorrentRemoved.
type fakeSwarm struct {
	rec      *recorder
	mu       sync.Mutex
	alerts   []domain.Alert
	confirm  bool
	state    []byte
	stateErr error
	closeErr error
}

func newFakeSwarm(rec *recorder) *fakeSwarm {
	return &fakeSwarm{rec: rec, confirm: true, state: []byte("session-state")}
}

func (s *fakeSwarm) push(a domain.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *fakeSwarm) AddTorrent(context.Context, ports.AddTorrentParams) (ports.Torrent, error) {
	return nil, domain.ErrUnsupported
}

func (s *fakeSwarm) RemoveTorrent(_ ports.Torrent, deleteFiles bool) error {
	s.rec.add("remove:%t", deleteFiles)
	if s.confirm {
		s.push(domain.Alert{Kind: domain.AlertTorrentRemoved})
	}
	return nil
}

func (s *fakeSwarm) PopAlerts() []domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.alerts
	s.alerts = nil
	return out
}

func (s *fakeSwarm) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts) > 0
}

func (s *fakeSwarm) WaitForAlert(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if s.pending() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *fakeSwarm) SaveState() ([]byte, error) {
	s.rec.add("save-state")
	return s.state, s.stateErr
}

func (s *fakeSwarm) ListenPort() int { return 6881 }

func (s *fakeSwarm) Close() error {
	s.rec.add("close")
	return s.closeErr
}

// fakeTorrent is a ports.Torrent whose asynchronous operations answer
// through the owning fakeSwarm when confirm is set.
type fakeTorrent struct {
	rec      *recorder
	swarm    *fakeSwarm
	confirm  bool
	savePath string
	meta     domain.Metadata
	hasMeta  bool

	mu       sync.Mutex
	status   domain.TorrentStatus
	progress []int64
	have     map[int]bool
	prio     map[int]int
}

func newFakeTorrent(rec *recorder, swarm *fakeSwarm, savePath string, meta domain.Metadata) *fakeTorrent {
	return &fakeTorrent{
		rec:      rec,
		swarm:    swarm,
		confirm:  true,
		savePath: savePath,
		meta:     meta,
		hasMeta:  true,
		progress: make([]int64, len(meta.Files)),
		have:     make(map[int]bool),
		prio:     make(map[int]int),
	}
}

func (t *fakeTorrent) setStatus(st domain.TorrentStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = st
}

func (t *fakeTorrent) InfoHash() string { return "c9e15763f722f23e98a29decdfae341b98d53056" }
func (t *fakeTorrent) SavePath() string { return t.savePath }

func (t *fakeTorrent) Status() domain.TorrentStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *fakeTorrent) HasMetadata() bool { return t.hasMeta }

func (t *fakeTorrent) Metadata() (domain.Metadata, error) {
	if !t.hasMeta {
		return domain.Metadata{}, domain.ErrMetadataUnavailable
	}
	return t.meta, nil
}

func (t *fakeTorrent) HavePiece(piece int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.have[piece]
}

func (t *fakeTorrent) PiecePriority(piece int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prio[piece]
}

func (t *fakeTorrent) SetPieceDeadline(int, time.Duration) {}
func (t *fakeTorrent) FilePriorities() []int               { return nil }
func (t *fakeTorrent) SetFilePriority(int, int)            {}

func (t *fakeTorrent) FileProgress() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int64(nil), t.progress...)
}

func (t *fakeTorrent) Peers() []domain.PeerInfo       { return nil }
func (t *fakeTorrent) Trackers() []domain.TrackerInfo { return nil }

func (t *fakeTorrent) SaveResumeData() {
	t.rec.add("save-resume")
	if t.confirm {
		t.swarm.push(domain.Alert{Kind: domain.AlertResumeData, InfoHash: t.InfoHash(), Data: []byte("resume-blob")})
	}
}

func (t *fakeTorrent) Pause() {
	t.rec.add("pause")
	if t.confirm {
		t.swarm.push(domain.Alert{Kind: domain.AlertTorrentPaused, InfoHash: t.InfoHash()})
	}
}

// memStore is a ports.BlobStore kept in a map.
type memStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (m *memStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

func (m *memStore) Save(_ context.Context, key string, data []byte) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) get(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.blobs[key])
}
