package apihttp

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"torrent2http/internal/metrics"
	"torrent2http/internal/services/torrent/catalog"
)

const defaultChunkSize = 256 << 10

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/files/")
	if strings.Trim(name, "/") == "" {
		s.serveListing(w, r)
		return
	}
	f, err := s.catalog.OpenFile(name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.serveFile(w, r, f)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	index, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/get/"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid file index")
		return
	}
	f, err := s.catalog.OpenIndex(index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.serveFile(w, r, f)
}

// serveFile answers a (possibly ranged) request from f and closes it. Bad or
// multi-range headers fall back to the full body.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, f *catalog.File) {
	defer f.Close()
	stop := context.AfterFunc(r.Context(), func() { _ = f.Close() })
	defer stop()

	entry := f.Entry()
	size := entry.Size
	span := byteRange{start: 0, end: size}
	status := http.StatusOK
	if header := r.Header.Get("Range"); header != "" {
		if br, err := parseRange(header, size); err == nil {
			span = br
			status = http.StatusPartialContent
		} else {
			s.logger.Debug("range ignored",
				slog.String("path", entry.Path),
				slog.String("range", header),
				slog.String("error", err.Error()),
			)
		}
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentTypeFor(entry.Path))
	h.Set("Content-Length", strconv.FormatInt(span.length(), 10))
	h.Set("Content-Range", span.contentRange(size))
	if !entry.ModTime.IsZero() {
		h.Set("Last-Modified", entry.ModTime.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}
	s.streamRange(w, f, span)
}

// streamRange copies span in piece-sized chunks, flushing each one. It stops
// at the first read or write failure.
func (s *Server) streamRange(w http.ResponseWriter, f *catalog.File, span byteRange) {
	chunk := f.PieceLength()
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	buf := make([]byte, chunk)
	flusher, _ := w.(http.Flusher)

	pos, end := span.start, span.end
	for pos < end {
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			s.abortStream(f, pos, "seek", err)
			return
		}
		n, err := f.Read(buf[:min(int64(len(buf)), end-pos)])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.abortStream(f, pos, "client_write", werr)
				return
			}
			pos += int64(n)
			metrics.BytesServedTotal.Add(float64(n))
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && pos >= end {
				return
			}
			s.abortStream(f, pos, "read", err)
			return
		}
		if n == 0 {
			s.abortStream(f, pos, "read", io.ErrNoProgress)
			return
		}
	}
}

func (s *Server) abortStream(f *catalog.File, pos int64, reason string, err error) {
	metrics.StreamAbortsTotal.WithLabelValues(reason).Inc()
	s.logger.Debug("stream aborted",
		slog.String("path", f.Entry().Path),
		slog.Int64("offset", pos),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	_ = f.Close()
}

var listingTemplate = template.Must(template.New("listing").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Index of /files/</title></head>
<body>
<h1>Index of /files/</h1>
<table>
<tr><th>Name</th><th>Size</th><th>Progress</th></tr>
{{range .}}<tr><td><a href="{{.Href}}">{{.Name}}</a></td><td>{{.Size}}</td><td>{{.Progress}}</td></tr>
{{end}}</table>
</body>
</html>
`))

type listingRow struct {
	Href     string
	Name     string
	Size     string
	Progress string
}

func (s *Server) serveListing(w http.ResponseWriter, r *http.Request) {
	f, err := s.catalog.Open("/")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer f.Close()
	dir, ok := f.(*catalog.Dir)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "listing unavailable")
		return
	}

	entries := dir.Entries()
	rows := make([]listingRow, 0, len(entries))
	for _, e := range entries {
		href := url.URL{Path: "/files/" + e.Path}
		rows = append(rows, listingRow{
			Href:     href.String(),
			Name:     e.Path,
			Size:     humanize.Bytes(uint64(e.Size)),
			Progress: fmt.Sprintf("%.1f%%", e.Progress*100),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if err := listingTemplate.Execute(w, rows); err != nil {
		s.logger.Debug("write listing failed", slog.String("error", err.Error()))
	}
}
