package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
	"torrent2http/internal/services/torrent/catalog"
	"torrent2http/internal/storage/disk"
)

// StatsLogger writes periodic progress lines. Each section is switched on
// separately.
type StatsLogger struct {
	Torrent ports.Torrent
	Catalog *catalog.Catalog
	Logger  *slog.Logger
	Overall bool
	Files   bool
	Pieces  bool
}

func (s StatsLogger) Enabled() bool {
	return s.Overall || s.Files || s.Pieces
}

func (s StatsLogger) Log() {
	if s.Torrent == nil {
		return
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Overall {
		s.logOverall(s.Torrent.Status())
	}
	if s.Catalog == nil || !s.Catalog.Ready() {
		return
	}
	if s.Files {
		s.logFiles()
	}
	if s.Pieces {
		s.logPieces()
	}
}

func (s StatsLogger) logOverall(st domain.TorrentStatus) {
	s.Logger.Info("torrent stats",
		slog.String("name", st.Name),
		slog.String("state", st.State.String()),
		slog.String("progress", fmt.Sprintf("%.2f%%", st.Progress*100)),
		slog.String("download", rateString(st.DownloadRate)),
		slog.String("upload", rateString(st.UploadRate)),
		slog.Int("peers", st.NumPeers),
		slog.Int("seeds", st.NumSeeds),
		slog.String("downloaded", humanize.Bytes(uint64(max(st.TotalDownload, 0)))),
		slog.String("uploaded", humanize.Bytes(uint64(max(st.TotalUpload, 0)))),
	)
}

func (s StatsLogger) logFiles() {
	for _, f := range s.Catalog.Files() {
		allocated := disk.AllocatedBytes(s.Catalog.DiskPath(f.FileEntry))
		s.Logger.Info("file stats",
			slog.Int("fileIndex", f.Index),
			slog.String("path", f.Path),
			slog.String("size", humanize.Bytes(uint64(f.Size))),
			slog.String("downloaded", humanize.Bytes(uint64(f.Downloaded))),
			slog.String("progress", fmt.Sprintf("%.2f%%", f.Progress*100)),
			slog.String("allocated", humanize.Bytes(uint64(allocated))),
		)
	}
}

// logPieces prints one map per open file: '#' downloaded, '+' wanted,
// '.' skipped.
func (s StatsLogger) logPieces() {
	for _, f := range s.Catalog.OpenFiles() {
		first, last := f.Pieces()
		s.Logger.Info("piece map",
			slog.String("path", f.Entry().Path),
			slog.Int("firstPiece", first),
			slog.Int("lastPiece", last),
			slog.String("pieces", pieceMap(s.Torrent, first, last)),
		)
	}
}

func pieceMap(t ports.Torrent, first, last int) string {
	var b strings.Builder
	b.Grow(last - first + 1)
	for i := first; i <= last; i++ {
		switch {
		case t.HavePiece(i):
			b.WriteByte('#')
		case t.PiecePriority(i) > domain.FilePrioritySkip:
			b.WriteByte('+')
		default:
			b.WriteByte('.')
		}
	}
	return b.String()
}

func rateString(bytesPerSec int64) string {
	return humanize.Bytes(uint64(max(bytesPerSec, 0))) + "/s"
}
