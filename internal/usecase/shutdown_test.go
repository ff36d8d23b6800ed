package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"torrent2http/internal/domain"
)

func shutdownMetadata() domain.Metadata {
	return domain.Metadata{
		Name:        "album",
		PieceLength: 16,
		NumPieces:   4,
		Files: []domain.FileEntry{
			{Index: 0, Path: "album/one.flac", Size: 32, Offset: 0},
			{Index: 1, Path: "album/two.flac", Size: 32, Offset: 32},
		},
	}
}

type shutdownFixture struct {
	rec     *recorder
	swarm   *fakeSwarm
	torrent *fakeTorrent
	store   *memStore
}

func newShutdownFixture(t *testing.T) shutdownFixture {
	t.Helper()
	rec := &recorder{}
	swarm := newFakeSwarm(rec)
	return shutdownFixture{
		rec:     rec,
		swarm:   swarm,
		torrent: newFakeTorrent(rec, swarm, t.TempDir(), shutdownMetadata()),
		store:   newMemStore(),
	}
}

func (f shutdownFixture) shutdown(retention domain.RetentionPolicy) *Shutdown {
	return &Shutdown{
		Swarm:   f.swarm,
		Torrent: f.torrent,
		Persistence: Persistence{
			Store:     f.store,
			ResumeKey: "resume",
			StateKey:  "state",
			Logger:    discardLogger(),
		},
		Retention: retention,
		Logger:    discardLogger(),
		StopListener: func(context.Context) error {
			f.rec.add("stop-listener")
			return nil
		},
		PauseTimeout:  time.Second,
		ResumeTimeout: time.Second,
		RemoveTimeout: time.Second,
	}
}

// ---------------------------------------------------------------------------
// Ordering
// ---------------------------------------------------------------------------

func TestShutdownRunsStepsInOrder(t *testing.T) {
	f := newShutdownFixture(t)
	s := f.shutdown(domain.RetentionPolicy{KeepComplete: true, KeepIncomplete: true, KeepFiles: true})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"stop-listener", "pause", "save-resume", "save-state", "remove:false", "close"}
	if got := f.rec.list(); !slices.Equal(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if got := f.store.get("resume"); got != "resume-blob" {
		t.Fatalf("resume blob = %q", got)
	}
	if got := f.store.get("state"); got != "session-state" {
		t.Fatalf("state blob = %q", got)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	f := newShutdownFixture(t)
	s := f.shutdown(domain.RetentionPolicy{KeepFiles: true})

	_ = s.Run(context.Background())
	_ = s.Run(context.Background())

	var closes int
	for _, c := range f.rec.list() {
		if c == "close" {
			closes++
		}
	}
	if closes != 1 {
		t.Fatalf("engine closed %d times, want 1", closes)
	}
}

func TestShutdownSkipsResumeWithoutMetadata(t *testing.T) {
	f := newShutdownFixture(t)
	f.torrent.hasMeta = false
	s := f.shutdown(domain.RetentionPolicy{KeepFiles: true})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if slices.Contains(f.rec.list(), "save-resume") {
		t.Fatal("resume data requested without metadata")
	}
	if got := f.store.get("state"); got != "session-state" {
		t.Fatalf("state blob = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Bounded waits
// ---------------------------------------------------------------------------

func TestShutdownDoesNotHangWithoutConfirmations(t *testing.T) {
	f := newShutdownFixture(t)
	f.swarm.confirm = false
	f.torrent.confirm = false
	s := f.shutdown(domain.RetentionPolicy{})
	s.PauseTimeout = 20 * time.Millisecond
	s.ResumeTimeout = 20 * time.Millisecond
	s.RemoveTimeout = 20 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown blocked")
	}
	if got := f.store.get("resume"); got != "" {
		t.Fatalf("resume blob saved without confirmation: %q", got)
	}
	if !slices.Contains(f.rec.list(), "close") {
		t.Fatal("engine not closed")
	}
}

func TestShutdownReturnsEngineCloseError(t *testing.T) {
	f := newShutdownFixture(t)
	f.swarm.closeErr = errors.New("listener busy")
	s := f.shutdown(domain.RetentionPolicy{KeepFiles: true})

	err := s.Run(context.Background())
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("err = %v, want ErrEngine", err)
	}
}

// ---------------------------------------------------------------------------
// Retention
// ---------------------------------------------------------------------------

func TestShutdownDeletesEverythingByDefault(t *testing.T) {
	f := newShutdownFixture(t)
	f.torrent.setStatus(domain.TorrentStatus{State: domain.StateDownloading})
	s := f.shutdown(domain.RetentionPolicy{})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Contains(f.rec.list(), "remove:true") {
		t.Fatalf("calls = %v, want remove:true", f.rec.list())
	}
}

func TestShutdownUnlinksIncompleteFiles(t *testing.T) {
	f := newShutdownFixture(t)
	meta := shutdownMetadata()
	for _, e := range meta.Files {
		p := filepath.Join(f.torrent.savePath, filepath.FromSlash(e.Path))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, make([]byte, e.Size), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	f.torrent.progress = []int64{32, 10}
	f.torrent.setStatus(domain.TorrentStatus{State: domain.StateDownloading})

	s := f.shutdown(domain.RetentionPolicy{KeepComplete: true})
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !slices.Contains(f.rec.list(), "remove:false") {
		t.Fatalf("calls = %v, want remove:false", f.rec.list())
	}
	if _, err := os.Stat(filepath.Join(f.torrent.savePath, "album", "one.flac")); err != nil {
		t.Fatalf("complete file removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.torrent.savePath, "album", "two.flac")); !os.IsNotExist(err) {
		t.Fatalf("incomplete file still present: %v", err)
	}
}

func TestShutdownKeepsFilesWhileChecking(t *testing.T) {
	f := newShutdownFixture(t)
	f.torrent.setStatus(domain.TorrentStatus{State: domain.StateCheckingFiles})
	s := f.shutdown(domain.RetentionPolicy{})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Contains(f.rec.list(), "remove:false") {
		t.Fatalf("calls = %v, want remove:false", f.rec.list())
	}
}
