package usecase

import (
	"context"
	"log/slog"
	"os"
	"time"

	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
	"torrent2http/internal/metrics"
	"torrent2http/internal/services/torrent/catalog"
)

const (
	defaultLoopInterval   = 500 * time.Millisecond
	defaultStatsInterval  = 5 * time.Second
	defaultResumeInterval = 30 * time.Second
)

// StatusObserver receives a status snapshot on every control tick.
type StatusObserver interface {
	PublishStatus(status domain.TorrentStatus, files []domain.FileProgress)
}

// ControlLoop polls the engine until a shutdown condition holds. It drains
// alerts, refreshes file progress and drives the stats and resume timers.
type ControlLoop struct {
	Swarm        ports.Swarm
	Torrent      ports.Torrent
	Catalog      *catalog.Catalog
	Persistence  Persistence
	Trigger      *ShutdownTrigger
	Stats        StatsLogger
	Observers    []StatusObserver
	Logger       *slog.Logger
	ExitOnFinish bool

	Interval       time.Duration
	StatsInterval  time.Duration
	ResumeInterval time.Duration

	// ParentAlive reports whether the launching process is still running.
	// Nil watches for the process being re-parented.
	ParentAlive func() bool
}

// Run blocks until shutdown is due and returns the reason.
func (l ControlLoop) Run(ctx context.Context) string {
	interval := l.Interval
	if interval <= 0 {
		interval = defaultLoopInterval
	}
	statsInterval := l.StatsInterval
	if statsInterval <= 0 {
		statsInterval = defaultStatsInterval
	}
	resumeInterval := l.ResumeInterval
	if resumeInterval <= 0 {
		resumeInterval = defaultResumeInterval
	}
	if l.Logger == nil {
		l.Logger = slog.Default()
	}
	parentAlive := l.ParentAlive
	if parentAlive == nil {
		parentAlive = watchParent(os.Getppid())
	}
	handler := alertHandler{persistence: l.Persistence, logger: l.Logger}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var statsC <-chan time.Time
	if l.Stats.Enabled() {
		statsTicker := time.NewTicker(statsInterval)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	var resumeC <-chan time.Time
	if l.Persistence.ResumeEnabled() {
		resumeTicker := time.NewTicker(resumeInterval)
		defer resumeTicker.Stop()
		resumeC = resumeTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			l.Trigger.Fire(ReasonSignal)
			return l.Trigger.Reason()
		case <-l.Trigger.Done():
			return l.Trigger.Reason()
		case <-statsC:
			l.Stats.Log()
		case <-resumeC:
			if l.Torrent.HasMetadata() {
				l.Torrent.SaveResumeData()
			}
		case <-ticker.C:
			if reason := l.tick(ctx, handler, parentAlive); reason != "" {
				l.Trigger.Fire(reason)
				return l.Trigger.Reason()
			}
		}
	}
}

func (l ControlLoop) tick(ctx context.Context, handler alertHandler, parentAlive func() bool) string {
	for _, a := range l.Swarm.PopAlerts() {
		handler.handle(ctx, a)
	}
	if l.Catalog != nil {
		l.Catalog.RefreshProgress()
	}

	status := l.Torrent.Status()
	metrics.ObserveStatus(status)
	if len(l.Observers) > 0 {
		var files []domain.FileProgress
		if l.Catalog != nil {
			files = l.Catalog.Files()
		}
		for _, o := range l.Observers {
			o.PublishStatus(status, files)
		}
	}

	if !parentAlive() {
		return ReasonParentExited
	}
	if l.ExitOnFinish && status.State.Done() {
		return ReasonFinished
	}
	return ""
}

// watchParent reports the parent as gone once the process is re-parented,
// which happens when the launcher exits.
func watchParent(initial int) func() bool {
	return func() bool {
		return os.Getppid() == initial
	}
}
