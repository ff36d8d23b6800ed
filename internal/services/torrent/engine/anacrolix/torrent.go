package anacrolix

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"

	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
)

// Torrent is the ports.Torrent handle over one anacrolix torrent.
type Torrent struct {
	engine   *Engine
	t        *torrent.Torrent
	infoHash string
	savePath string
	addedAt  time.Time

	mu          sync.Mutex
	paused      bool
	layoutReady bool
	filePrio    []int
	fileRanges  []pieceRange
	pendingPrio []int
	overrides   map[int]torrent.PiecePriority
	speed       speedSample
	downRate    int64
	upRate      int64

	observedSet  bool
	observed     domain.TorrentState
	metaSent     bool
	finishedSent bool
	errMsg       string
}

var _ ports.Torrent = (*Torrent)(nil)

func newTorrent(e *Engine, t *torrent.Torrent, savePath string) *Torrent {
	return &Torrent{
		engine:    e,
		t:         t,
		infoHash:  t.InfoHash().HexString(),
		savePath:  savePath,
		addedAt:   time.Now().UTC(),
		overrides: make(map[int]torrent.PiecePriority),
	}
}

func (t *Torrent) InfoHash() string { return t.infoHash }
func (t *Torrent) SavePath() string { return t.savePath }

func (t *Torrent) HasMetadata() bool {
	return torrentInfoReady(t.t)
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

// Metadata reads the file layout from the loaded torrent, falling back to
// decoding the info dictionary from the metainfo.
func (t *Torrent) Metadata() (domain.Metadata, error) {
	if !t.HasMetadata() {
		return domain.Metadata{}, domain.ErrMetadataUnavailable
	}
	modTime := t.modTime()

	if info := t.t.Info(); info != nil {
		files := t.t.Files()
		meta := domain.Metadata{
			Name:        info.Name,
			PieceLength: info.PieceLength,
			NumPieces:   t.t.NumPieces(),
			Files:       make([]domain.FileEntry, 0, len(files)),
		}
		for i, f := range files {
			meta.Files = append(meta.Files, domain.FileEntry{
				Index:   i,
				Path:    f.Path(),
				Size:    f.Length(),
				Offset:  f.Offset(),
				ModTime: modTime,
			})
		}
		return meta, nil
	}

	mi := t.t.Metainfo()
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("%w: %v", domain.ErrMetadataUnavailable, err)
	}
	return metadataFromInfo(&info, modTime), nil
}

// metadataFromInfo lays files out the same way the client does: multi-file
// torrents live under a directory named after the torrent.
func metadataFromInfo(info *metainfo.Info, modTime time.Time) domain.Metadata {
	meta := domain.Metadata{
		Name:        info.Name,
		PieceLength: info.PieceLength,
		NumPieces:   info.NumPieces(),
	}
	if len(info.Files) == 0 {
		meta.Files = []domain.FileEntry{{
			Index:   0,
			Path:    info.Name,
			Size:    info.Length,
			ModTime: modTime,
		}}
		return meta
	}

	var offset int64
	for i, fi := range info.Files {
		parts := fi.Path
		if len(fi.PathUtf8) > 0 {
			parts = fi.PathUtf8
		}
		meta.Files = append(meta.Files, domain.FileEntry{
			Index:   i,
			Path:    info.Name + "/" + strings.Join(parts, "/"),
			Size:    fi.Length,
			Offset:  offset,
			ModTime: modTime,
		})
		offset += fi.Length
	}
	return meta
}

func (t *Torrent) modTime() time.Time {
	if mi := t.t.Metainfo(); mi.CreationDate > 0 {
		return time.Unix(mi.CreationDate, 0).UTC()
	}
	return t.addedAt
}

func (t *Torrent) HavePiece(piece int) bool {
	if !t.validPiece(piece) {
		return false
	}
	return t.t.PieceState(piece).Complete
}

func (t *Torrent) validPiece(piece int) bool {
	return t.HasMetadata() && piece >= 0 && piece < t.t.NumPieces()
}

// PiecePriority is the highest of the priorities of the files covering the
// piece and any deadline override. The client reports None for pieces that
// are hashing, which would read as "not wanted", so the value is derived
// from the priorities set through this handle.
func (t *Torrent) PiecePriority(piece int) int {
	if !t.validPiece(piece) {
		return domain.FilePrioritySkip
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLayoutLocked()

	best := domain.FilePrioritySkip
	if p, ok := t.overrides[piece]; ok {
		best = domainPriority(p)
	}
	for i, r := range t.fileRanges {
		if piece >= r.start && piece < r.end && t.filePrio[i] > best {
			best = t.filePrio[i]
		}
	}
	return best
}

// SetPieceDeadline raises the piece priority according to the deadline. It
// never lowers an earlier override.
func (t *Torrent) SetPieceDeadline(piece int, deadline time.Duration) {
	if !t.validPiece(piece) || t.t.PieceState(piece).Complete {
		return
	}
	target := deadlinePriority(deadline)

	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.overrides[piece]; ok && cur >= target {
		return
	}
	t.overrides[piece] = target
	t.t.Piece(piece).SetPriority(target)
}

func (t *Torrent) FilePriorities() []int {
	if !t.HasMetadata() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLayoutLocked()
	return append([]int(nil), t.filePrio...)
}

// SetFilePriority applies prio to every piece of the file. Dropping a file to
// zero also clears deadline overrides on its pieces unless another wanted
// file shares them.
func (t *Torrent) SetFilePriority(index, prio int) {
	if !t.HasMetadata() {
		return
	}
	files := t.t.Files()
	if index < 0 || index >= len(files) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLayoutLocked()
	t.filePrio[index] = prio
	files[index].SetPriority(filePriority(prio))

	if prio != domain.FilePrioritySkip {
		return
	}
	r := t.fileRanges[index]
	for piece := r.start; piece < r.end; piece++ {
		if _, ok := t.overrides[piece]; !ok || t.wantedByOtherLocked(piece, index) {
			continue
		}
		delete(t.overrides, piece)
		t.t.Piece(piece).SetPriority(torrent.PiecePriorityNone)
	}
}

func (t *Torrent) wantedByOtherLocked(piece, index int) bool {
	for i, r := range t.fileRanges {
		if i != index && t.filePrio[i] > domain.FilePrioritySkip && piece >= r.start && piece < r.end {
			return true
		}
	}
	return false
}

// ensureLayoutLocked captures file piece ranges and initial priorities once
// metadata is present. Caller holds t.mu.
func (t *Torrent) ensureLayoutLocked() {
	if t.layoutReady || !torrentInfoReady(t.t) {
		return
	}
	info := t.t.Info()
	files := t.t.Files()
	numPieces := t.t.NumPieces()

	t.filePrio = make([]int, len(files))
	t.fileRanges = make([]pieceRange, len(files))
	for i, f := range files {
		t.filePrio[i] = domainPriority(f.Priority())
		if info != nil {
			t.fileRanges[i], _ = computePieceRange(f.Offset(), f.Length(), info.PieceLength, numPieces)
		}
	}
	if len(t.pendingPrio) == len(files) {
		for i, prio := range t.pendingPrio {
			t.filePrio[i] = prio
			files[i].SetPriority(filePriority(prio))
		}
	}
	t.pendingPrio = nil
	t.layoutReady = true
}

// restorePriorities applies file priorities from resume data once the file
// list is known.
func (t *Torrent) restorePriorities(prios []int) {
	if len(prios) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingPrio = append([]int(nil), prios...)
	t.ensureLayoutLocked()
}

func (t *Torrent) FileProgress() []int64 {
	if !t.HasMetadata() {
		return nil
	}
	files := t.t.Files()
	out := make([]int64, len(files))
	for i, f := range files {
		out[i] = f.BytesCompleted()
	}
	return out
}

func (t *Torrent) Status() domain.TorrentStatus {
	stats := t.t.Stats()
	st := domain.TorrentStatus{
		Name:          t.t.Name(),
		HasMetadata:   t.HasMetadata(),
		NumPeers:      stats.ActivePeers,
		NumSeeds:      stats.ConnectedSeeders,
		NumComplete:   stats.ConnectedSeeders,
		NumIncomplete: max(stats.TotalPeers-stats.ConnectedSeeders, 0),
		TotalDownload: stats.BytesReadData.Int64(),
		TotalUpload:   stats.BytesWrittenData.Int64(),
	}
	st.DownloadRate, st.UploadRate = t.sampleSpeed(stats, time.Now().UTC())

	in := t.stateInputs()
	st.State = deriveState(in)
	if in.length > 0 {
		st.Progress = float64(in.completed) / float64(in.length)
	}

	t.mu.Lock()
	st.Paused = t.paused
	st.Error = t.errMsg
	t.mu.Unlock()
	return st
}

type stateInputs struct {
	hasInfo    bool
	checking   bool
	length     int64
	completed  int64
	wanted     int
	wantedDone int
}

func (t *Torrent) stateInputs() stateInputs {
	in := stateInputs{hasInfo: t.HasMetadata()}
	if !in.hasInfo {
		return in
	}
	in.length = t.t.Length()
	in.completed = t.t.BytesCompleted()
	for i := 0; i < t.t.NumPieces(); i++ {
		if t.t.PieceState(i).Checking {
			in.checking = true
			break
		}
	}

	prios := t.FilePriorities()
	for i, f := range t.t.Files() {
		if i >= len(prios) || prios[i] == domain.FilePrioritySkip {
			continue
		}
		in.wanted++
		if f.BytesCompleted() >= f.Length() {
			in.wantedDone++
		}
	}
	return in
}

func deriveState(in stateInputs) domain.TorrentState {
	switch {
	case !in.hasInfo:
		return domain.StateDownloadingMetadata
	case in.checking:
		return domain.StateCheckingFiles
	case in.length > 0 && in.completed >= in.length:
		return domain.StateSeeding
	case in.wanted > 0 && in.wantedDone == in.wanted:
		return domain.StateFinished
	default:
		return domain.StateDownloading
	}
}

// observe turns state transitions since the previous call into alerts.
func (t *Torrent) observe() []domain.Alert {
	ready := t.HasMetadata()
	state := deriveState(t.stateInputs())

	t.mu.Lock()
	defer t.mu.Unlock()

	var alerts []domain.Alert
	if ready && !t.metaSent {
		t.metaSent = true
		alerts = append(alerts, domain.Alert{Kind: domain.AlertMetadataReceived, InfoHash: t.infoHash})
		if err := checkStorage(t.savePath); err != nil {
			alerts = append(alerts, t.storageFailure(err))
		}
	}
	if t.observedSet && state != t.observed {
		alerts = append(alerts, domain.Alert{
			Kind:     domain.AlertStateChanged,
			InfoHash: t.infoHash,
			Message:  t.observed.String() + " -> " + state.String(),
		})
	}
	t.observed = state
	t.observedSet = true
	if state.Done() && !t.finishedSent {
		t.finishedSent = true
		alerts = append(alerts, domain.Alert{Kind: domain.AlertTorrentFinished, InfoHash: t.infoHash})
	}
	return alerts
}

// storageFailure records err as the torrent error. t.mu must be held.
func (t *Torrent) storageFailure(err error) domain.Alert {
	t.errMsg = err.Error()
	return domain.Alert{
		Kind:     domain.AlertTorrentError,
		InfoHash: t.infoHash,
		Message:  "storage unavailable",
		Err:      err,
	}
}

// checkStorage verifies payload files can be created under dir.
func checkStorage(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create save path: %w", err)
	}
	f, err := os.CreateTemp(dir, ".torrent2http-*")
	if err != nil {
		return fmt.Errorf("write save path: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (t *Torrent) Peers() []domain.PeerInfo {
	numPieces := 0
	if t.HasMetadata() {
		numPieces = t.t.NumPieces()
	}
	conns := t.t.PeerConns()
	out := make([]domain.PeerInfo, 0, len(conns))
	for _, pc := range conns {
		stats := pc.Stats()
		client, _ := pc.PeerClientName.Load().(string)

		var flags domain.PeerFlags
		if strings.Contains(pc.Network, "utp") {
			flags |= domain.PeerUTP
		}
		if pc.PeerPrefersEncryption {
			flags |= domain.PeerEncrypted
		}
		if numPieces > 0 && stats.RemotePieceCount >= numPieces {
			flags |= domain.PeerSeed
		}

		out = append(out, domain.PeerInfo{
			Addr:          pc.RemoteAddr.String(),
			Client:        client,
			Source:        string(pc.Discovery),
			Flags:         flags,
			DownloadRate:  int64(stats.DownloadRate),
			UploadRate:    int64(stats.LastWriteUploadRate),
			TotalDownload: stats.BytesReadData.Int64(),
			TotalUpload:   stats.BytesWrittenData.Int64(),
		})
	}
	return out
}

// Trackers lists the announce tiers. The client keeps no per-tracker failure
// counters, so Fails stays at zero.
func (t *Torrent) Trackers() []domain.TrackerInfo {
	mi := t.t.Metainfo()
	var out []domain.TrackerInfo
	for tier, urls := range mi.UpvertedAnnounceList() {
		for _, u := range urls {
			out = append(out, domain.TrackerInfo{URL: u, Tier: tier})
		}
	}
	return out
}

// SaveResumeData encodes the resume blob in the background and reports it
// with AlertResumeData or AlertResumeDataFailed.
func (t *Torrent) SaveResumeData() {
	go func() {
		data, err := t.resumeBlob()
		if err != nil {
			t.engine.alerts.push(domain.Alert{
				Kind:     domain.AlertResumeDataFailed,
				InfoHash: t.infoHash,
				Err:      err,
			})
			return
		}
		t.engine.alerts.push(domain.Alert{
			Kind:     domain.AlertResumeData,
			InfoHash: t.infoHash,
			Data:     data,
		})
	}()
}

func (t *Torrent) resumeBlob() ([]byte, error) {
	if !t.HasMetadata() {
		return nil, errors.New("torrent has no metadata")
	}
	mi := t.t.Metainfo()
	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		return nil, fmt.Errorf("encode metainfo: %w", err)
	}
	return encodeResume(resumeData{
		InfoHash:       t.infoHash,
		MetaInfo:       buf.Bytes(),
		FilePriorities: t.FilePriorities(),
		Pieces:         bitfield(t.t.NumPieces(), t.HavePiece),
		SavePath:       t.savePath,
	})
}

// Pause stops all transfer and drops peer connections.
func (t *Torrent) Pause() {
	hardPauseTorrent(t.t)
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
	t.engine.alerts.push(domain.Alert{Kind: domain.AlertTorrentPaused, InfoHash: t.infoHash})
}

func hardPauseTorrent(t *torrent.Torrent) {
	if t == nil {
		return
	}
	t.DisallowDataDownload()
	t.DisallowDataUpload()
	t.SetMaxEstablishedConns(0)
}

const minSampleInterval = time.Second

type speedSample struct {
	at           time.Time
	bytesRead    int64
	bytesWritten int64
}

// sampleSpeed derives rates from byte counters. Samples closer together
// than minSampleInterval reuse the previous result so that frequent callers
// do not skew the figures.
func (t *Torrent) sampleSpeed(stats torrent.TorrentStats, now time.Time) (int64, int64) {
	cur := speedSample{
		at:           now,
		bytesRead:    stats.BytesReadUsefulData.Int64(),
		bytesWritten: stats.BytesWrittenData.Int64(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.speed.at.IsZero() && now.Sub(t.speed.at) < minSampleInterval {
		return t.downRate, t.upRate
	}
	t.downRate, t.upRate = rates(t.speed, cur)
	t.speed = cur
	return t.downRate, t.upRate
}

func rates(prev, cur speedSample) (int64, int64) {
	if prev.at.IsZero() {
		return 0, 0
	}
	dt := cur.at.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}
	deltaRead := max(cur.bytesRead-prev.bytesRead, 0)
	deltaWritten := max(cur.bytesWritten-prev.bytesWritten, 0)
	return int64(float64(deltaRead) / dt), int64(float64(deltaWritten) / dt)
}
