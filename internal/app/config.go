package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Version is stamped at build time with -ldflags "-X torrent2http/internal/app.Version=...".
var Version = "dev"

const (
	PersistFile  = "file"
	PersistMongo = "mongo"
)

var (
	ErrMissingURI        = errors.New("TORRENT_URI is required")
	ErrResumeWithoutKeep = errors.New("RESUME_FILE requires KEEP_FILES")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

type Config struct {
	TorrentURI   string
	HTTPAddr     string
	DownloadPath string
	FileIndex    int
	IdleTimeout  time.Duration
	ExitOnFinish bool

	KeepComplete   bool
	KeepIncomplete bool
	KeepFiles      bool

	ResumeFile      string
	StateFile       string
	PersistBackend  string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	UserAgent        string
	DHTRouters       []string
	Trackers         []string
	ListenPort       int
	RandomPort       bool
	DownloadKbps     int64 // negative = unlimited
	UploadKbps       int64 // negative = unlimited
	ConnectionsLimit int
	Encryption       int

	PeerConnectTimeout  time.Duration
	RequestTimeout      time.Duration
	ConnectionSpeed     int
	TorrentConnectBoost int

	EnableDHT    bool
	EnableUPnP   bool
	EnableNATPMP bool
	EnableLSD    bool
	EnableUTP    bool
	EnableTCP    bool

	ShowStats       bool
	OverallProgress bool
	FilesProgress   bool
	PiecesProgress  bool
	StatsInterval   time.Duration
	ResumeInterval  time.Duration
	PrefetchPieces  int
	DebugAlerts     bool

	LogLevel       string
	LogFormat      string
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string

	OTLPEndpoint    string
	TraceSampleRate float64
}

func LoadConfig() Config {
	return Config{
		TorrentURI:   strings.TrimSpace(os.Getenv("TORRENT_URI")),
		HTTPAddr:     getEnv("HTTP_ADDR", "localhost:5001"),
		DownloadPath: getEnv("DOWNLOAD_PATH", "."),
		FileIndex:    int(getEnvSigned("FILE_INDEX", -1)),
		IdleTimeout:  time.Duration(getEnvSigned("IDLE_TIMEOUT_SECONDS", -1)) * time.Second,
		ExitOnFinish: getEnvBool("EXIT_ON_FINISH", false),

		KeepComplete:   getEnvBool("KEEP_COMPLETE", false),
		KeepIncomplete: getEnvBool("KEEP_INCOMPLETE", false),
		KeepFiles:      getEnvBool("KEEP_FILES", false),

		ResumeFile:      os.Getenv("RESUME_FILE"),
		StateFile:       os.Getenv("STATE_FILE"),
		PersistBackend:  strings.ToLower(getEnv("PERSIST_BACKEND", PersistFile)),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGO_DB", "torrent2http"),
		MongoCollection: getEnv("MONGO_COLLECTION", "blobs"),

		UserAgent:        getEnv("USER_AGENT", "torrent2http/"+Version),
		DHTRouters:       parseCSV(os.Getenv("DHT_ROUTERS")),
		Trackers:         parseCSV(os.Getenv("TRACKERS")),
		ListenPort:       int(getEnvInt64("LISTEN_PORT", 6881)),
		RandomPort:       getEnvBool("RANDOM_PORT", false),
		DownloadKbps:     getEnvSigned("DL_RATE_KBPS", -1),
		UploadKbps:       getEnvSigned("UL_RATE_KBPS", -1),
		ConnectionsLimit: int(getEnvInt64("CONNECTIONS_LIMIT", 200)),
		Encryption:       int(getEnvInt64("ENCRYPTION", 1)),

		PeerConnectTimeout:  time.Duration(getEnvInt64("PEER_CONNECT_TIMEOUT_SECONDS", 15)) * time.Second,
		RequestTimeout:      time.Duration(getEnvInt64("REQUEST_TIMEOUT_SECONDS", 20)) * time.Second,
		ConnectionSpeed:     int(getEnvInt64("CONNECTION_SPEED", 50)),
		TorrentConnectBoost: int(getEnvInt64("TORRENT_CONNECT_BOOST", 50)),

		EnableDHT:    getEnvBool("ENABLE_DHT", true),
		EnableUPnP:   getEnvBool("ENABLE_UPNP", true),
		EnableNATPMP: getEnvBool("ENABLE_NATPMP", true),
		EnableLSD:    getEnvBool("ENABLE_LSD", true),
		EnableUTP:    getEnvBool("ENABLE_UTP", true),
		EnableTCP:    getEnvBool("ENABLE_TCP", true),

		ShowStats:       getEnvBool("SHOW_STATS", false),
		OverallProgress: getEnvBool("OVERALL_PROGRESS", false),
		FilesProgress:   getEnvBool("FILES_PROGRESS", false),
		PiecesProgress:  getEnvBool("PIECES_PROGRESS", false),
		StatsInterval:   time.Duration(getEnvInt64("STATS_INTERVAL_SECONDS", 5)) * time.Second,
		ResumeInterval:  time.Duration(getEnvInt64("RESUME_SAVE_INTERVAL_SECONDS", 30)) * time.Second,
		PrefetchPieces:  int(getEnvInt64("PREFETCH_PIECES", 5)),
		DebugAlerts:     getEnvBool("DEBUG_ALERTS", false),

		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		RateLimitRPS:   getEnvFloat("HTTP_RATE_LIMIT_RPS", 100),
		RateLimitBurst: int(getEnvInt64("HTTP_RATE_LIMIT_BURST", 200)),
		AllowedOrigins: parseCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),

		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRate: getEnvFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.TorrentURI == "" {
		errs = append(errs, ErrMissingURI)
	}
	if c.ResumeFile != "" && !c.KeepFiles {
		errs = append(errs, ErrResumeWithoutKeep)
	}
	if c.FileIndex < -1 {
		errs = append(errs, fmt.Errorf("%w: FILE_INDEX %d", ErrInvalidConfig, c.FileIndex))
	}
	if c.Encryption < 0 || c.Encryption > 2 {
		errs = append(errs, fmt.Errorf("%w: ENCRYPTION %d", ErrInvalidConfig, c.Encryption))
	}
	if c.PersistBackend != PersistFile && c.PersistBackend != PersistMongo {
		errs = append(errs, fmt.Errorf("%w: PERSIST_BACKEND %q", ErrInvalidConfig, c.PersistBackend))
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("%w: LISTEN_PORT %d", ErrInvalidConfig, c.ListenPort))
	}
	return errors.Join(errs...)
}

// StatsEnabled reports whether any periodic stats section is switched on.
// SHOW_STATS alone turns on the overall section.
func (c Config) StatsEnabled() bool {
	return c.ShowStats || c.OverallProgress || c.FilesProgress || c.PiecesProgress
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvSigned is getEnvInt64 for settings where negative values mean
// "disabled" or "unlimited".
func getEnvSigned(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseCSV(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
