package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/dht/v2"
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"

	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
	"torrent2http/internal/storage/disk"
)

const (
	// addTorrentTimeout caps the time we wait for the client to accept a
	// torrent. AddTorrentSpec can block on the client lock while it is busy.
	addTorrentTimeout = 10 * time.Second

	randomPortBase  = 49152
	randomPortSpan  = 16374
	listenPortRange = 10
	defaultDHTPort  = 6881

	// minLimiterBurst must cover one request chunk or the limiter rejects
	// reads outright.
	minLimiterBurst = 256 << 10
)

// Encryption policies.
const (
	EncryptionForced   = 0
	EncryptionEnabled  = 1
	EncryptionDisabled = 2
)

type Settings struct {
	DataDir    string
	ListenPort int
	RandomPort bool
	UserAgent  string

	DHT    bool
	UPnP   bool
	NATPMP bool
	LSD    bool
	UTP    bool
	TCP    bool

	DHTRouters []string

	// Rates in bytes per second; zero or negative means unlimited.
	DownloadRate int64
	UploadRate   int64

	ConnectionsLimit int
	Encryption       int

	// Zero keeps the client defaults.
	PeerConnectTimeout time.Duration
	HandshakeTimeout   time.Duration
	HalfOpenPerTorrent int
	TotalHalfOpen      int

	// SessionState is a blob produced by a previous SaveState.
	SessionState []byte
	DebugAlerts  bool
	Logger       *slog.Logger
}

// Engine is the ports.Swarm implementation over an anacrolix client.
type Engine struct {
	client     *torrent.Client
	logger     *slog.Logger
	settings   Settings
	alerts     *alertQueue
	httpClient *http.Client

	mu       sync.Mutex
	torrents map[string]*Torrent
}

var _ ports.Swarm = (*Engine)(nil)

func New(settings Settings) (*Engine, error) {
	logger := settings.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var state sessionState
	if len(settings.SessionState) > 0 {
		s, err := decodeState(settings.SessionState)
		if err != nil {
			logger.Warn("ignoring session state", slog.String("error", err.Error()))
		} else {
			state = s
		}
	}

	port := settings.ListenPort
	if settings.RandomPort {
		port = randomPortBase + rand.IntN(randomPortSpan)
		if state.ListenPort > 0 {
			port = state.ListenPort
		}
	}
	if settings.LSD {
		logger.Info("local service discovery is not supported by the engine")
	}

	var (
		client *torrent.Client
		err    error
	)
	for attempt := 0; attempt <= listenPortRange; attempt++ {
		cfg := clientConfig(settings, state, port+attempt)
		client, err = torrent.NewClient(cfg)
		if err == nil {
			break
		}
		logger.Debug("listen failed",
			slog.Int("port", port+attempt),
			slog.String("error", err.Error()),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("start torrent client on ports %d-%d: %w", port, port+listenPortRange, err)
	}

	logger.Info("torrent client started",
		slog.Int("listenPort", client.LocalPort()),
		slog.String("dataDir", settings.DataDir),
		slog.Bool("dht", settings.DHT),
		slog.Int("encryption", settings.Encryption),
	)

	return &Engine{
		client:     client,
		logger:     logger,
		settings:   settings,
		alerts:     newAlertQueue(logger, settings.DebugAlerts),
		httpClient: &http.Client{Timeout: fetchTimeout},
		torrents:   make(map[string]*Torrent),
	}, nil
}

func clientConfig(s Settings, state sessionState, port int) *torrent.ClientConfig {
	cfg := torrent.NewDefaultClientConfig()
	if s.DataDir != "" {
		cfg.DataDir = s.DataDir
	}
	cfg.ListenPort = port
	cfg.Seed = true
	cfg.NoDHT = !s.DHT
	cfg.DisableTCP = !s.TCP
	cfg.DisableUTP = !s.UTP
	cfg.NoDefaultPortForwarding = !s.UPnP && !s.NATPMP
	if s.UserAgent != "" {
		cfg.HTTPUserAgent = s.UserAgent
	}
	if s.ConnectionsLimit > 0 {
		cfg.EstablishedConnsPerTorrent = s.ConnectionsLimit
	}
	if s.DownloadRate > 0 {
		cfg.DownloadRateLimiter = newLimiter(s.DownloadRate)
	}
	if s.UploadRate > 0 {
		cfg.UploadRateLimiter = newLimiter(s.UploadRate)
	}
	if s.PeerConnectTimeout > 0 {
		cfg.NominalDialTimeout = s.PeerConnectTimeout
		cfg.MinDialTimeout = min(cfg.MinDialTimeout, s.PeerConnectTimeout)
	}
	if s.HandshakeTimeout > 0 {
		cfg.HandshakesTimeout = s.HandshakeTimeout
	}
	if s.HalfOpenPerTorrent > 0 {
		cfg.HalfOpenConnsPerTorrent = s.HalfOpenPerTorrent
	}
	if s.TotalHalfOpen > 0 {
		cfg.TotalHalfOpenConns = s.TotalHalfOpen
	}
	cfg.HeaderObfuscationPolicy = obfuscationPolicy(s.Encryption)
	if len(state.PeerID) == 20 {
		cfg.PeerID = string(state.PeerID)
	}
	if len(s.DHTRouters) > 0 {
		routers := s.DHTRouters
		cfg.DhtStartingNodes = func(network string) dht.StartingNodesGetter {
			return func() ([]dht.Addr, error) {
				return startingNodes(network, routers)
			}
		}
	}
	return cfg
}

func newLimiter(bytesPerSec int64) *rate.Limiter {
	burst := int(bytesPerSec)
	if burst < minLimiterBurst {
		burst = minLimiterBurst
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

func obfuscationPolicy(encryption int) torrent.HeaderObfuscationPolicy {
	switch encryption {
	case EncryptionForced:
		return torrent.HeaderObfuscationPolicy{Preferred: true, RequirePreferred: true}
	case EncryptionDisabled:
		return torrent.HeaderObfuscationPolicy{Preferred: false, RequirePreferred: true}
	default:
		return torrent.HeaderObfuscationPolicy{Preferred: true}
	}
}

// startingNodes appends the extra routers to the global bootstrap set.
func startingNodes(network string, routers []string) ([]dht.Addr, error) {
	addrs, bootstrapErr := dht.GlobalBootstrapAddrs(network)
	for _, router := range routers {
		ua, err := net.ResolveUDPAddr(network, withDefaultPort(router, defaultDHTPort))
		if err != nil {
			continue
		}
		addrs = append(addrs, dht.NewAddr(ua))
	}
	if len(addrs) > 0 {
		return addrs, nil
	}
	return nil, bootstrapErr
}

func withDefaultPort(hostport string, port int) string {
	hostport = strings.TrimSpace(hostport)
	if _, _, err := net.SplitHostPort(hostport); err == nil {
		return hostport
	}
	return net.JoinHostPort(hostport, strconv.Itoa(port))
}

func (e *Engine) AddTorrent(ctx context.Context, params ports.AddTorrentParams) (ports.Torrent, error) {
	if e.client == nil {
		return nil, errors.New("torrent client not configured")
	}
	desc, err := e.resolve(ctx, params.URI)
	if err != nil {
		return nil, err
	}
	spec, err := desc.spec()
	if err != nil {
		return nil, fmt.Errorf("torrent spec: %w", err)
	}

	resume := e.applyResume(spec, params.ResumeData)
	spec.Trackers = appendTrackerTiers(spec.Trackers, params.Trackers, defaultTrackers)

	savePath := params.SavePath
	if savePath == "" {
		savePath = e.settings.DataDir
	}
	if !samePath(savePath, e.settings.DataDir) {
		spec.Storage = storage.NewFile(savePath)
	}

	t, err := e.addSpec(ctx, spec)
	if err != nil {
		return nil, err
	}

	wrapped := newTorrent(e, t, savePath)
	if resume != nil {
		wrapped.restorePriorities(resume.FilePriorities)
	}

	e.mu.Lock()
	e.torrents[wrapped.infoHash] = wrapped
	e.mu.Unlock()

	e.logger.Info("torrent added",
		slog.String("infoHash", wrapped.infoHash),
		slog.String("name", t.Name()),
		slog.Bool("hasMetadata", wrapped.HasMetadata()),
		slog.Int("trackerTiers", len(spec.Trackers)),
	)
	return wrapped, nil
}

// applyResume reuses the metainfo stored in a matching resume blob.
func (e *Engine) applyResume(spec *torrent.TorrentSpec, data []byte) *resumeData {
	if len(data) == 0 {
		return nil
	}
	r, err := decodeResume(data)
	if err != nil {
		e.logger.Warn("ignoring resume data", slog.String("error", err.Error()))
		return nil
	}
	if !strings.EqualFold(r.InfoHash, spec.InfoHash.HexString()) {
		e.logger.Warn("resume data belongs to another torrent",
			slog.String("infoHash", spec.InfoHash.HexString()),
			slog.String("resumeInfoHash", r.InfoHash),
		)
		return nil
	}
	if len(spec.InfoBytes) == 0 {
		if mi, err := r.metainfo(); err == nil {
			spec.InfoBytes = mi.InfoBytes
		}
	}
	e.logger.Info("resume data loaded",
		slog.String("infoHash", r.InfoHash),
		slog.Int("completedPieces", r.completedPieces()),
	)
	return &r
}

func (e *Engine) addSpec(ctx context.Context, spec *torrent.TorrentSpec) (*torrent.Torrent, error) {
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, _, err := e.client.AddTorrentSpec(spec)
		ch <- addResult{t, err}
	}()

	dropLate := func() {
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.t, nil
	case <-time.After(addTorrentTimeout):
		dropLate()
		return nil, errors.New("torrent client busy")
	case <-ctx.Done():
		dropLate()
		return nil, ctx.Err()
	}
}

// RemoveTorrent drops the torrent and, when deleteFiles is set, deletes its
// payload. Completion is reported with AlertTorrentRemoved.
func (e *Engine) RemoveTorrent(pt ports.Torrent, deleteFiles bool) error {
	t, ok := pt.(*Torrent)
	if !ok || t == nil {
		return fmt.Errorf("%w: foreign torrent handle", domain.ErrUnsupported)
	}

	e.mu.Lock()
	_, known := e.torrents[t.infoHash]
	delete(e.torrents, t.infoHash)
	e.mu.Unlock()
	if !known {
		return domain.ErrNotFound
	}

	var paths []string
	if deleteFiles {
		if meta, err := t.Metadata(); err == nil {
			for _, f := range meta.Files {
				paths = append(paths, f.Path)
			}
		}
	}

	go func() {
		t.t.Drop()
		var err error
		if len(paths) > 0 {
			err = disk.RemoveFiles(t.savePath, paths)
		}
		freeOSMemory()
		e.alerts.push(domain.Alert{
			Kind:     domain.AlertTorrentRemoved,
			InfoHash: t.infoHash,
			Err:      err,
		})
	}()
	return nil
}

// PopAlerts returns queued alerts after recording state transitions.
func (e *Engine) PopAlerts() []domain.Alert {
	e.observe()
	return e.alerts.pop()
}

func (e *Engine) WaitForAlert(timeout time.Duration) bool {
	e.observe()
	return e.alerts.wait(timeout)
}

func (e *Engine) observe() {
	e.mu.Lock()
	list := make([]*Torrent, 0, len(e.torrents))
	for _, t := range e.torrents {
		list = append(list, t)
	}
	e.mu.Unlock()

	for _, t := range list {
		for _, a := range t.observe() {
			e.alerts.push(a)
		}
	}
}

func (e *Engine) SaveState() ([]byte, error) {
	id := e.client.PeerID()
	return encodeState(sessionState{
		PeerID:     append([]byte(nil), id[:]...),
		ListenPort: e.client.LocalPort(),
	})
}

func (e *Engine) ListenPort() int {
	return e.client.LocalPort()
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	errList := e.client.Close()
	if len(errList) > 0 {
		return errors.Join(errList...)
	}
	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// freeOSMemory returns memory released by a dropped torrent to the OS.
func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
