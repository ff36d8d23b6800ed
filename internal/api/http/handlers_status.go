package apihttp

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"torrent2http/internal/domain"
	"torrent2http/internal/usecase"
)

// Keys are capitalised; existing launchers decode them by these names.

type statusResponse struct {
	Name          string  `json:"Name"`
	State         int     `json:"State"`
	StateStr      string  `json:"StateStr"`
	Error         string  `json:"Error"`
	Progress      float64 `json:"Progress"`
	DownloadRate  float64 `json:"DownloadRate"`
	UploadRate    float64 `json:"UploadRate"`
	TotalDownload int64   `json:"TotalDownload"`
	TotalUpload   int64   `json:"TotalUpload"`
	NumPeers      int     `json:"NumPeers"`
	NumSeeds      int     `json:"NumSeeds"`
	TotalSeeds    int     `json:"TotalSeeds"`
	TotalPeers    int     `json:"TotalPeers"`
}

type fileResponse struct {
	Name     string  `json:"Name"`
	Size     int64   `json:"Size"`
	Offset   int64   `json:"Offset"`
	Download int64   `json:"Download"`
	Progress float64 `json:"Progress"`
	SavePath string  `json:"SavePath"`
	URL      string  `json:"Url"`
}

type peerResponse struct {
	IP            string  `json:"Ip"`
	Flags         uint32  `json:"Flags"`
	Source        string  `json:"Source"`
	UpSpeed       float64 `json:"UpSpeed"`
	DownSpeed     float64 `json:"DownSpeed"`
	TotalDownload int64   `json:"TotalDownload"`
	TotalUpload   int64   `json:"TotalUpload"`
	Client        string  `json:"Client"`
}

type trackerResponse struct {
	URL       string `json:"Url"`
	Tier      int    `json:"Tier"`
	Fails     int    `json:"Fails"`
	FailLimit int    `json:"FailLimit"`
	Verified  bool   `json:"Verified"`
	Updating  bool   `json:"Updating"`
}

// kib converts a byte rate to KiB/s.
func kib(bytesPerSec int64) float64 {
	return float64(bytesPerSec) / 1024
}

func newStatusResponse(st domain.TorrentStatus) statusResponse {
	return statusResponse{
		Name:          st.Name,
		State:         int(st.State),
		StateStr:      st.State.String(),
		Error:         st.Error,
		Progress:      st.Progress,
		DownloadRate:  kib(st.DownloadRate),
		UploadRate:    kib(st.UploadRate),
		TotalDownload: st.TotalDownload,
		TotalUpload:   st.TotalUpload,
		NumPeers:      st.NumPeers,
		NumSeeds:      st.NumSeeds,
		TotalSeeds:    st.NumComplete,
		TotalPeers:    st.NumIncomplete,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(s.torrent.Status()))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	host := r.Host
	if host == "" {
		host = s.addr
	}
	writeJSON(w, http.StatusOK, s.fileResponses(s.catalog.Files(), host))
}

func (s *Server) fileResponses(files []domain.FileProgress, host string) []fileResponse {
	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, fileResponse{
			Name:     f.Path,
			Size:     f.Size,
			Offset:   f.Offset,
			Download: f.Downloaded,
			Progress: f.Progress,
			SavePath: s.catalog.DiskPath(f.FileEntry),
			URL:      fileURL(host, f.Path),
		})
	}
	return out
}

func fileURL(host, p string) string {
	u := url.URL{Scheme: "http", Host: host, Path: "/files/" + p}
	return u.String()
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	peers := s.torrent.Peers()
	out := make([]peerResponse, 0, len(peers))
	for _, p := range peers {
		if !p.Flags.Established() {
			continue
		}
		out = append(out, peerResponse{
			IP:            p.Addr,
			Flags:         uint32(p.Flags),
			Source:        p.Source,
			UpSpeed:       kib(p.UploadRate),
			DownSpeed:     kib(p.DownloadRate),
			TotalDownload: p.TotalDownload,
			TotalUpload:   p.TotalUpload,
			Client:        p.Client,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrackers(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	trackers := s.torrent.Trackers()
	out := make([]trackerResponse, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, trackerResponse{
			URL:       t.URL,
			Tier:      t.Tier,
			Fails:     t.Fails,
			FailLimit: t.FailLimit,
			Verified:  t.Verified,
			Updating:  t.Updating,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
	if s.trigger != nil {
		s.trigger.Fire(usecase.ReasonRequested)
	}
}

func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", strings.Join([]string{http.MethodGet, http.MethodHead}, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	return false
}
