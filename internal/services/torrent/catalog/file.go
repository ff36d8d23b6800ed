package catalog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
	"torrent2http/internal/metrics"
)

const (
	deadlineUrgent   = "urgent"
	deadlinePrefetch = "prefetch"
)

var errNegativePosition = errors.New("negative position")

// File is a seekable reader over one torrent file. Reads block until the
// covering pieces are downloaded. A File is single-use: once closed it stays
// closed.
type File struct {
	catalog  *Catalog
	torrent  ports.Torrent
	logger   *slog.Logger
	entry    domain.FileEntry
	diskPath string

	pieceLength    int64
	firstPiece     int
	lastPiece      int
	pollInterval   time.Duration
	prefetchPieces int
	prefetchStep   time.Duration

	posMu sync.Mutex
	pos   int64

	handleMu sync.Mutex
	handle   *os.File

	requestedMu sync.Mutex
	requested   map[int]bool

	prefetching atomic.Bool
	done        chan struct{}
	closeOnce   sync.Once
}

func newFile(c *Catalog, entry domain.FileEntry, pieceLength int64) *File {
	f := &File{
		catalog:        c,
		torrent:        c.torrent,
		logger:         c.logger,
		entry:          entry,
		diskPath:       c.DiskPath(entry),
		pieceLength:    pieceLength,
		pollInterval:   c.opts.PollInterval,
		prefetchPieces: c.opts.PrefetchPieces,
		prefetchStep:   c.opts.PrefetchStep,
		requested:      make(map[int]bool),
		done:           make(chan struct{}),
	}
	f.firstPiece = f.pieceFromOffset(0)
	f.lastPiece = f.firstPiece
	if entry.Size > 0 {
		f.lastPiece = f.pieceFromOffset(entry.Size - 1)
	}
	return f
}

func (f *File) Entry() domain.FileEntry { return f.entry }
func (f *File) Size() int64             { return f.entry.Size }
func (f *File) PieceLength() int64      { return f.pieceLength }
func (f *File) DiskPath() string        { return f.diskPath }

// Pieces returns the inclusive piece range covering the file.
func (f *File) Pieces() (first, last int) {
	return f.firstPiece, f.lastPiece
}

func (f *File) pieceFromOffset(offset int64) int {
	return f.entry.PieceAt(offset, f.pieceLength)
}

// Seek moves the read cursor. It never touches the engine or the disk.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.posMu.Lock()
	defer f.posMu.Unlock()

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.pos + offset
	case io.SeekEnd:
		next = f.entry.Size + offset
	default:
		return f.pos, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if next < 0 {
		return f.pos, errNegativePosition
	}
	f.pos = next
	return next, nil
}

func (f *File) tell() int64 {
	f.posMu.Lock()
	defer f.posMu.Unlock()
	return f.pos
}

func (f *File) moveTo(pos int64) {
	f.posMu.Lock()
	f.pos = pos
	f.posMu.Unlock()
}

// Read reads at most one piece length of data at the cursor, waiting for the
// pieces it spans.
func (f *File) Read(p []byte) (int, error) {
	if f.closed() {
		return 0, domain.ErrFileClosed
	}
	pos := f.tell()
	if pos >= f.entry.Size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if f.pieceLength > 0 && n > f.pieceLength {
		n = f.pieceLength
	}
	if remaining := f.entry.Size - pos; n > remaining {
		n = remaining
	}
	if n == 0 {
		return 0, nil
	}

	for piece := f.pieceFromOffset(pos); piece <= f.pieceFromOffset(pos+n-1); piece++ {
		if err := f.WaitForPiece(piece); err != nil {
			return 0, err
		}
	}

	h, err := f.storage()
	if err != nil {
		return 0, err
	}
	read, err := h.ReadAt(p[:n], pos)
	f.moveTo(pos + int64(read))
	if errors.Is(err, io.EOF) && read > 0 {
		err = nil
	}
	return read, err
}

// WaitForPiece blocks until piece is downloaded, the file is closed or the
// engine stops wanting the piece.
func (f *File) WaitForPiece(piece int) error {
	if f.closed() {
		return domain.ErrFileClosed
	}
	if !f.torrent.HavePiece(piece) {
		f.requestDeadline(piece, domain.UrgentDeadline, deadlineUrgent)
		started := time.Now()

		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()
		for !f.torrent.HavePiece(piece) {
			if f.closed() {
				metrics.StreamAbortsTotal.WithLabelValues("closed").Inc()
				return domain.ErrFileClosed
			}
			if f.torrent.PiecePriority(piece) == domain.FilePrioritySkip {
				metrics.StreamAbortsTotal.WithLabelValues("deprioritized").Inc()
				return fmt.Errorf("%w: piece %d", domain.ErrDeprioritized, piece)
			}
			select {
			case <-f.done:
				metrics.StreamAbortsTotal.WithLabelValues("closed").Inc()
				return domain.ErrFileClosed
			case <-ticker.C:
			}
		}
		metrics.PieceWaitDuration.Observe(time.Since(started).Seconds())
	}

	f.startPrefetch(piece)
	return nil
}

func (f *File) requestDeadline(piece int, deadline time.Duration, kind string) {
	f.requestedMu.Lock()
	f.requested[piece] = true
	f.requestedMu.Unlock()

	f.torrent.SetPieceDeadline(piece, deadline)
	metrics.DeadlinesTotal.WithLabelValues(kind).Inc()
}

func (f *File) wasRequested(piece int) bool {
	f.requestedMu.Lock()
	defer f.requestedMu.Unlock()
	return f.requested[piece]
}

// startPrefetch runs at most one prefetch task per file.
func (f *File) startPrefetch(from int) {
	if f.prefetchPieces <= 0 || from >= f.lastPiece {
		return
	}
	if !f.prefetching.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer f.prefetching.Store(false)
		f.prefetch(from)
	}()
}

func (f *File) prefetch(from int) {
	for k := 1; k <= f.prefetchPieces; k++ {
		piece := from + k
		if piece > f.lastPiece || f.closed() {
			return
		}
		if f.wasRequested(piece) || f.torrent.HavePiece(piece) {
			continue
		}
		f.requestDeadline(piece, time.Duration(k)*f.prefetchStep, deadlinePrefetch)
	}
}

// storage opens the backing file, waiting for the engine to create it.
func (f *File) storage() (*os.File, error) {
	f.handleMu.Lock()
	defer f.handleMu.Unlock()
	if f.handle != nil {
		return f.handle, nil
	}

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()
	for {
		if f.closed() {
			return nil, domain.ErrFileClosed
		}
		h, err := os.Open(f.diskPath)
		if err == nil {
			f.handle = h
			return h, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		select {
		case <-f.done:
			return nil, domain.ErrFileClosed
		case <-ticker.C:
		}
	}
}

func (f *File) closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Close releases the file. Only the first call has any effect.
func (f *File) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		if f.catalog.release(f) {
			trackOpen(-1)
		}
		f.catalog.ReconcilePriorities()

		f.handleMu.Lock()
		if f.handle != nil {
			err = f.handle.Close()
			f.handle = nil
		}
		f.handleMu.Unlock()

		f.logger.Debug("file closed",
			slog.String("path", f.entry.Path),
			slog.Int("fileIndex", f.entry.Index),
		)
	})
	return err
}

func (f *File) Readdir(count int) ([]fs.FileInfo, error) {
	return nil, fmt.Errorf("readdir %s: not a directory", f.entry.Path)
}

func (f *File) Stat() (fs.FileInfo, error) {
	return fileInfo{
		name:    path.Base(f.entry.Path),
		size:    f.entry.Size,
		modTime: f.entry.ModTime,
	}, nil
}

func trackOpen(delta float64) {
	metrics.OpenFiles.Add(delta)
}
