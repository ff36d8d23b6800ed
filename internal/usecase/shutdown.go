package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
	"torrent2http/internal/services/torrent/catalog"
	"torrent2http/internal/storage/disk"
)

const (
	defaultListenerTimeout = 5 * time.Second
	defaultPauseTimeout    = 10 * time.Second
	defaultResumeTimeout   = 5 * time.Second
	defaultRemoveTimeout   = 15 * time.Second
)

// Shutdown tears the session down in order: listener, open files, pause,
// persistence, retention, engine. Every engine confirmation is waited for
// with a bound, so Run always returns. Only the first Run does any work.
type Shutdown struct {
	Swarm       ports.Swarm
	Torrent     ports.Torrent
	Catalog     *catalog.Catalog
	Persistence Persistence
	Retention   domain.RetentionPolicy
	Logger      *slog.Logger

	// StopListener closes the HTTP listener and waits for handlers.
	StopListener func(ctx context.Context) error

	ListenerTimeout time.Duration
	PauseTimeout    time.Duration
	ResumeTimeout   time.Duration
	RemoveTimeout   time.Duration

	once sync.Once
	err  error
}

func (s *Shutdown) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.err = s.run(ctx)
	})
	return s.err
}

func (s *Shutdown) run(ctx context.Context) error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	started := time.Now()
	handler := alertHandler{persistence: s.Persistence, logger: s.Logger}
	var errs []error

	if s.StopListener != nil {
		lctx, cancel := context.WithTimeout(ctx, orDefault(s.ListenerTimeout, defaultListenerTimeout))
		if err := s.StopListener(lctx); err != nil {
			s.Logger.Warn("stop listener failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	if s.Catalog != nil {
		s.Catalog.Close()
	}

	if s.Torrent != nil {
		s.Torrent.Pause()
		if _, ok := handler.waitForAlert(ctx, s.Swarm, orDefault(s.PauseTimeout, defaultPauseTimeout), domain.AlertTorrentPaused); !ok {
			s.Logger.Warn("pause not confirmed in time")
		}

		s.saveResume(ctx, handler)
		s.saveState(ctx)

		if err := s.applyRetention(ctx, handler); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.Swarm.Close(); err != nil {
		errs = append(errs, wrapEngine(err))
	}

	s.Logger.Info("shutdown complete", slog.Duration("took", time.Since(started)))
	return errors.Join(errs...)
}

func (s *Shutdown) saveResume(ctx context.Context, handler alertHandler) {
	if !s.Persistence.ResumeEnabled() || !s.Torrent.HasMetadata() {
		return
	}
	s.Torrent.SaveResumeData()
	a, ok := handler.waitForAlert(ctx, s.Swarm, orDefault(s.ResumeTimeout, defaultResumeTimeout),
		domain.AlertResumeData, domain.AlertResumeDataFailed)
	switch {
	case !ok:
		s.Logger.Warn("resume data not produced in time")
	case a.Kind == domain.AlertResumeDataFailed:
		s.Logger.Warn("save resume data failed", slog.String("error", errString(a.Err)))
	default:
		_ = s.Persistence.SaveResume(ctx, a.Data)
	}
}

func (s *Shutdown) saveState(ctx context.Context) {
	if !s.Persistence.StateEnabled() {
		return
	}
	data, err := s.Swarm.SaveState()
	if err != nil {
		s.Logger.Warn("save session state failed", slog.String("error", err.Error()))
		return
	}
	_ = s.Persistence.SaveState(ctx, data)
}

// applyRetention removes the torrent from the engine and deletes files the
// retention policy does not keep.
func (s *Shutdown) applyRetention(ctx context.Context, handler alertHandler) error {
	var files []domain.FileEntry
	if meta, err := s.Torrent.Metadata(); err == nil {
		files = meta.Files
	}
	plan := s.Retention.Plan(s.Torrent.Status().State, files, s.Torrent.FileProgress())

	if err := s.Swarm.RemoveTorrent(s.Torrent, plan.DeleteAll); err != nil {
		return wrapEngine(err)
	}
	s.Logger.Info("torrent removed",
		slog.Bool("deleteAll", plan.DeleteAll),
		slog.Int("filesToRemove", len(plan.Files)),
	)
	if plan.Empty() {
		return nil
	}

	if _, ok := handler.waitForAlert(ctx, s.Swarm, orDefault(s.RemoveTimeout, defaultRemoveTimeout), domain.AlertTorrentRemoved); !ok {
		s.Logger.Warn("torrent removal not confirmed in time")
	}
	if len(plan.Files) == 0 {
		return nil
	}

	paths := make([]string, 0, len(plan.Files))
	for _, idx := range plan.Files {
		if idx >= 0 && idx < len(files) {
			paths = append(paths, files[idx].Path)
		}
	}
	if err := disk.RemoveFiles(s.Torrent.SavePath(), paths); err != nil {
		s.Logger.Warn("remove files failed", slog.String("error", err.Error()))
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
