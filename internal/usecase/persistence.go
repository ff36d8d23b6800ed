package usecase

import (
	"context"
	"errors"
	"log/slog"

	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
	"torrent2http/internal/metrics"
)

const (
	blobResume = "resume"
	blobState  = "state"
)

// Persistence moves resume and session state blobs between the engine and
// a BlobStore. An empty key disables that blob. Failures are logged and
// never stop the caller.
type Persistence struct {
	Store     ports.BlobStore
	ResumeKey string
	StateKey  string
	Logger    *slog.Logger
}

func (p Persistence) LoadResume(ctx context.Context) []byte {
	return p.load(ctx, blobResume, p.ResumeKey)
}

func (p Persistence) LoadState(ctx context.Context) []byte {
	return p.load(ctx, blobState, p.StateKey)
}

func (p Persistence) SaveResume(ctx context.Context, data []byte) error {
	return p.save(ctx, blobResume, p.ResumeKey, data)
}

func (p Persistence) SaveState(ctx context.Context, data []byte) error {
	return p.save(ctx, blobState, p.StateKey, data)
}

func (p Persistence) ResumeEnabled() bool {
	return p.Store != nil && p.ResumeKey != ""
}

func (p Persistence) StateEnabled() bool {
	return p.Store != nil && p.StateKey != ""
}

func (p Persistence) load(ctx context.Context, blob, key string) []byte {
	if p.Store == nil || key == "" {
		return nil
	}
	data, err := p.Store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger().Warn("load blob failed",
				slog.String("blob", blob),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	p.logger().Info("blob loaded",
		slog.String("blob", blob),
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return data
}

func (p Persistence) save(ctx context.Context, blob, key string, data []byte) error {
	if p.Store == nil || key == "" {
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	if err := p.Store.Save(ctx, key, data); err != nil {
		metrics.ResumeSavesTotal.WithLabelValues(blob, "error").Inc()
		p.logger().Error("save blob failed",
			slog.String("blob", blob),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return wrapPersistence(err)
	}
	metrics.ResumeSavesTotal.WithLabelValues(blob, "ok").Inc()
	p.logger().Debug("blob saved",
		slog.String("blob", blob),
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return nil
}

func (p Persistence) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
