package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"torrent2http/internal/domain"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrMetadataUnavailable):
		writeError(w, http.StatusNotFound, "not_found", "file not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var (
	errInvalidRange        = errors.New("invalid range")
	errRangeNotSatisfiable = errors.New("range not satisfiable")
)

// byteRange is the half-open span [start, end) of a file.
type byteRange struct {
	start, end int64
}

func (br byteRange) length() int64 {
	return br.end - br.start
}

func (br byteRange) contentRange(size int64) string {
	if size <= 0 {
		return "bytes */0"
	}
	return fmt.Sprintf("bytes %d-%d/%d", br.start, br.end-1, size)
}

// parseRange resolves a single-range Range header ("a-b", "a-" or "-n")
// against a file of the given size. Ends past the file are clipped.
func parseRange(header string, size int64) (byteRange, error) {
	unit, set, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return byteRange{}, errInvalidRange
	}
	set = strings.TrimSpace(set)
	if set == "" || strings.Contains(set, ",") {
		return byteRange{}, errInvalidRange
	}
	first, last, ok := strings.Cut(set, "-")
	if !ok {
		return byteRange{}, errInvalidRange
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	if size <= 0 {
		return byteRange{}, errRangeNotSatisfiable
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, errInvalidRange
		}
		return byteRange{start: max(size-n, 0), end: size}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, errInvalidRange
	}
	if start >= size {
		return byteRange{}, errRangeNotSatisfiable
	}
	if last == "" {
		return byteRange{start: start, end: size}, nil
	}
	stop, err := strconv.ParseInt(last, 10, 64)
	if err != nil || stop < start {
		return byteRange{}, errInvalidRange
	}
	return byteRange{start: start, end: min(stop, size-1) + 1}, nil
}

// mediaTypes covers extensions the platform mime table often lacks.
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".ts":   "video/mp2t",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".srt":  "application/x-subrip",
}

func contentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
