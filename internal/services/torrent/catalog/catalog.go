package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
)

const (
	defaultPollInterval   = 100 * time.Millisecond
	defaultPrefetchPieces = 5
	defaultPrefetchStep   = time.Second
)

type Options struct {
	// StartIndex is the file downloaded before anything is opened; -1 means
	// none and downloading starts with the first Open.
	StartIndex     int
	PollInterval   time.Duration
	PrefetchPieces int
	// PrefetchStep is the extra deadline budget granted per piece of distance
	// from the piece just read.
	PrefetchStep time.Duration
	Logger       *slog.Logger
}

// Catalog maps the torrent's file list to byte ranges and owns the file
// priority policy: a file is wanted exactly while a File for it is open.
type Catalog struct {
	torrent ports.Torrent
	logger  *slog.Logger
	opts    Options

	mu         sync.Mutex
	ready      bool
	meta       domain.Metadata
	byPath     map[string]int
	priorities []int
	progress   []int64
	open       map[*File]struct{}
}

func New(t ports.Torrent, opts Options) *Catalog {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.PrefetchPieces < 0 {
		opts.PrefetchPieces = 0
	} else if opts.PrefetchPieces == 0 {
		opts.PrefetchPieces = defaultPrefetchPieces
	}
	if opts.PrefetchStep <= 0 {
		opts.PrefetchStep = defaultPrefetchStep
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		torrent: t,
		logger:  logger,
		opts:    opts,
		open:    make(map[*File]struct{}),
	}
}

// WaitForMetadata polls the engine until metadata is available, then builds
// the file registry. It fails only when ctx ends first.
func (c *Catalog) WaitForMetadata(ctx context.Context) error {
	if c.Ready() {
		return nil
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for !c.torrent.HasMetadata() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrMetadataUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}

	meta, err := c.torrent.Metadata()
	if err != nil {
		return err
	}
	c.load(meta)
	return nil
}

func (c *Catalog) load(meta domain.Metadata) {
	current := c.torrent.FilePriorities()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return
	}

	c.meta = meta
	c.byPath = make(map[string]int, len(meta.Files))
	c.priorities = make([]int, len(meta.Files))
	c.progress = make([]int64, len(meta.Files))
	for i, f := range meta.Files {
		c.byPath[cleanPath(f.Path)] = i
		// Unknown engine priorities force an explicit call below.
		c.priorities[i] = -1
		if i < len(current) {
			c.priorities[i] = current[i]
		}
	}
	for i := range meta.Files {
		want := domain.FilePrioritySkip
		if i == c.opts.StartIndex {
			want = domain.FilePriorityNormal
		}
		c.setPriorityLocked(i, want)
	}
	c.ready = true

	c.logger.Info("catalog loaded",
		slog.String("name", meta.Name),
		slog.Int("files", len(meta.Files)),
		slog.Int("pieces", meta.NumPieces),
		slog.Int64("pieceLength", meta.PieceLength),
	)
}

func (c *Catalog) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Catalog) Metadata() (domain.Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta, c.ready
}

func (c *Catalog) SavePath() string {
	return c.torrent.SavePath()
}

// DiskPath returns the absolute location of entry under the save path.
func (c *Catalog) DiskPath(entry domain.FileEntry) string {
	p := filepath.Join(c.torrent.SavePath(), filepath.FromSlash(entry.Path))
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Open implements http.FileSystem. The root path yields a directory listing.
func (c *Catalog) Open(name string) (http.File, error) {
	if cleanPath(name) == "" {
		if !c.Ready() {
			return nil, domain.ErrNotFound
		}
		return newDir(c.Files()), nil
	}
	return c.OpenFile(name)
}

// OpenFile opens a streaming reader for the file at name, marks the file as
// wanted and asks for its first piece right away.
func (c *Catalog) OpenFile(name string) (*File, error) {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	index, ok := c.byPath[cleanPath(name)]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, name)
	}
	f := newFile(c, c.meta.Files[index], c.meta.PieceLength)
	c.open[f] = struct{}{}
	if c.priorities[index] < domain.FilePriorityNormal {
		c.setPriorityLocked(index, domain.FilePriorityNormal)
	}
	c.mu.Unlock()

	trackOpen(1)
	f.requestDeadline(f.firstPiece, domain.UrgentDeadline, deadlineUrgent)
	c.logger.Debug("file opened",
		slog.String("path", f.entry.Path),
		slog.Int("fileIndex", f.entry.Index),
		slog.Int("firstPiece", f.firstPiece),
		slog.Int("lastPiece", f.lastPiece),
	)
	return f, nil
}

// OpenIndex is OpenFile addressed by file index.
func (c *Catalog) OpenIndex(index int) (*File, error) {
	c.mu.Lock()
	if !c.ready || index < 0 || index >= len(c.meta.Files) {
		c.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	name := c.meta.Files[index].Path
	c.mu.Unlock()
	return c.OpenFile(name)
}

// Files lists every entry with the downloaded byte count from the last
// progress refresh.
func (c *Catalog) Files() []domain.FileProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return nil
	}
	out := make([]domain.FileProgress, 0, len(c.meta.Files))
	for i, entry := range c.meta.Files {
		out = append(out, domain.NewFileProgress(entry, c.progress[i]))
	}
	return out
}

// RefreshProgress pulls per-file downloaded byte counters from the engine.
func (c *Catalog) RefreshProgress() {
	if !c.Ready() {
		return
	}
	progress := c.torrent.FileProgress()

	c.mu.Lock()
	copy(c.progress, progress)
	c.mu.Unlock()
}

// SetPriority changes the priority of file index. Unchanged values do not
// reach the engine.
func (c *Catalog) SetPriority(index, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.priorities) {
		return domain.ErrNotFound
	}
	c.setPriorityLocked(index, value)
	return nil
}

func (c *Catalog) Priorities() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.priorities...)
}

// ReconcilePriorities drops every wanted file that has no open reader.
func (c *Catalog) ReconcilePriorities() {
	c.mu.Lock()
	defer c.mu.Unlock()

	inUse := make(map[int]bool, len(c.open))
	for f := range c.open {
		inUse[f.entry.Index] = true
	}
	for i, prio := range c.priorities {
		if prio != domain.FilePrioritySkip && !inUse[i] {
			c.setPriorityLocked(i, domain.FilePrioritySkip)
		}
	}
}

func (c *Catalog) setPriorityLocked(index, value int) {
	if c.priorities[index] == value {
		return
	}
	c.priorities[index] = value
	c.torrent.SetFilePriority(index, value)
}

// OpenFiles returns a snapshot of the open set.
func (c *Catalog) OpenFiles() []*File {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*File, 0, len(c.open))
	for f := range c.open {
		out = append(out, f)
	}
	return out
}

// Close closes every open file. Later opens still work.
func (c *Catalog) Close() {
	for _, f := range c.OpenFiles() {
		if err := f.Close(); err != nil {
			c.logger.Warn("close file failed",
				slog.String("path", f.entry.Path),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *Catalog) release(f *File) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.open[f]; !ok {
		return false
	}
	delete(c.open, f)
	return true
}

func cleanPath(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Clean("/" + name)
	return strings.TrimPrefix(name, "/")
}
