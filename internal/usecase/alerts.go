package usecase

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
	"torrent2http/internal/metrics"
)

// alertHandler consumes engine alerts. Resume data is persisted as soon as
// it arrives, wherever the alert is popped.
type alertHandler struct {
	persistence Persistence
	logger      *slog.Logger
}

func (h alertHandler) handle(ctx context.Context, a domain.Alert) {
	metrics.AlertsTotal.WithLabelValues(string(a.Kind)).Inc()

	switch a.Kind {
	case domain.AlertResumeData:
		_ = h.persistence.SaveResume(ctx, a.Data)
	case domain.AlertResumeDataFailed:
		h.logger.Warn("save resume data failed",
			slog.String("infoHash", a.InfoHash),
			slog.String("error", errString(a.Err)),
		)
	case domain.AlertTorrentError:
		h.logger.Error("torrent error",
			slog.String("infoHash", a.InfoHash),
			slog.String("message", a.Message),
			slog.String("error", errString(a.Err)),
		)
	case domain.AlertMetadataReceived:
		h.logger.Info("metadata received", slog.String("infoHash", a.InfoHash))
	case domain.AlertTorrentFinished:
		h.logger.Info("torrent finished", slog.String("infoHash", a.InfoHash))
	case domain.AlertStateChanged:
		h.logger.Info("torrent state changed",
			slog.String("infoHash", a.InfoHash),
			slog.String("transition", a.Message),
		)
	case domain.AlertTorrentRemoved:
		if a.Err != nil {
			h.logger.Warn("torrent removed with errors",
				slog.String("infoHash", a.InfoHash),
				slog.String("error", a.Err.Error()),
			)
		}
	}
}

// waitForAlert blocks until an alert of one of kinds arrives or timeout
// elapses. Other alerts popped meanwhile go through the handler.
func (h alertHandler) waitForAlert(ctx context.Context, swarm ports.Swarm, timeout time.Duration, kinds ...domain.AlertKind) (domain.Alert, bool) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domain.Alert{}, false
		}
		if !swarm.WaitForAlert(remaining) {
			return domain.Alert{}, false
		}

		var (
			found   domain.Alert
			matched bool
		)
		for _, a := range swarm.PopAlerts() {
			if !matched && slices.Contains(kinds, a.Kind) {
				found, matched = a, true
				metrics.AlertsTotal.WithLabelValues(string(a.Kind)).Inc()
				continue
			}
			h.handle(ctx, a)
		}
		if matched {
			return found, true
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
