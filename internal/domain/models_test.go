package domain

import (
	"reflect"
	"testing"
)

func TestTorrentStateStrings(t *testing.T) {
	tests := []struct {
		state TorrentState
		want  string
	}{
		{StateQueuedForChecking, "queued_for_checking"},
		{StateCheckingFiles, "checking_files"},
		{StateDownloadingMetadata, "downloading_metadata"},
		{StateDownloading, "downloading"},
		{StateFinished, "finished"},
		{StateSeeding, "seeding"},
		{StateAllocating, "allocating"},
		{StateCheckingResumeData, "checking_resume_data"},
		{TorrentState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("TorrentState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestTorrentStateDone(t *testing.T) {
	if !StateFinished.Done() || !StateSeeding.Done() {
		t.Fatalf("finished and seeding must be done")
	}
	if StateDownloading.Done() {
		t.Fatalf("downloading must not be done")
	}
}

func TestPieceAtMonotonic(t *testing.T) {
	const pieceLength = 16384
	file := FileEntry{Index: 1, Offset: 40000, Size: 500000}

	if got, want := file.PieceAt(0, pieceLength), int(file.Offset/pieceLength); got != want {
		t.Fatalf("PieceAt(0) = %d, want %d", got, want)
	}

	prev := -1
	for off := int64(0); off < file.Size; off += 997 {
		piece := file.PieceAt(off, pieceLength)
		if piece < prev {
			t.Fatalf("piece index decreased at offset %d: %d < %d", off, piece, prev)
		}
		prev = piece
	}
}

func TestPieceAtZeroPieceLength(t *testing.T) {
	if got := (FileEntry{Offset: 10}).PieceAt(5, 0); got != 0 {
		t.Fatalf("PieceAt with zero piece length = %d, want 0", got)
	}
}

func TestNewFileProgress(t *testing.T) {
	tests := []struct {
		name       string
		size       int64
		downloaded int64
		want       float64
	}{
		{name: "half", size: 1000, downloaded: 500, want: 0.5},
		{name: "complete", size: 1000, downloaded: 1000, want: 1},
		{name: "zero size", size: 0, downloaded: 0, want: 0},
		{name: "overshoot clamped", size: 10, downloaded: 20, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := NewFileProgress(FileEntry{Size: tt.size}, tt.downloaded)
			if fp.Progress != tt.want {
				t.Fatalf("Progress = %v, want %v", fp.Progress, tt.want)
			}
			if fp.Downloaded != tt.downloaded {
				t.Fatalf("Downloaded = %d, want %d", fp.Downloaded, tt.downloaded)
			}
		})
	}
}

func TestPeerFlagsEstablished(t *testing.T) {
	if !(PeerSeed | PeerEncrypted).Established() {
		t.Fatalf("seed peer should be established")
	}
	if PeerConnecting.Established() || (PeerHandshake | PeerSeed).Established() {
		t.Fatalf("connecting/handshake peers must not be established")
	}
}

func TestRetentionPlan(t *testing.T) {
	files := []FileEntry{
		{Index: 0, Path: "a/movie.mkv", Size: 100},
		{Index: 1, Path: "a/sample.mkv", Size: 50},
	}
	progress := []int64{100, 10}

	tests := []struct {
		name   string
		policy RetentionPolicy
		state  TorrentState
		want   RemovalPlan
	}{
		{name: "keep files", policy: RetentionPolicy{KeepFiles: true}, state: StateDownloading, want: RemovalPlan{}},
		{name: "checking keeps everything", policy: RetentionPolicy{}, state: StateCheckingFiles, want: RemovalPlan{}},
		{name: "queued keeps everything", policy: RetentionPolicy{KeepComplete: true}, state: StateQueuedForChecking, want: RemovalPlan{}},
		{name: "delete all", policy: RetentionPolicy{}, state: StateDownloading, want: RemovalPlan{DeleteAll: true}},
		{name: "keep complete", policy: RetentionPolicy{KeepComplete: true}, state: StateDownloading, want: RemovalPlan{Files: []int{1}}},
		{name: "keep incomplete", policy: RetentionPolicy{KeepIncomplete: true}, state: StateSeeding, want: RemovalPlan{Files: []int{0}}},
		{name: "keep both", policy: RetentionPolicy{KeepComplete: true, KeepIncomplete: true}, state: StateDownloading, want: RemovalPlan{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.Plan(tt.state, files, progress)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Plan() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRetentionPlanWithoutMetadata(t *testing.T) {
	plan := RetentionPolicy{}.Plan(StateDownloadingMetadata, nil, nil)
	if !plan.Empty() {
		t.Fatalf("plan without files must be empty, got %+v", plan)
	}
}

func TestFileEntryJSONTags(t *testing.T) {
	expectJSONTag(t, FileEntry{}, "Index", "index")
	expectJSONTag(t, FileEntry{}, "Path", "path")
	expectJSONTag(t, FileEntry{}, "Size", "size")
	expectJSONTag(t, FileEntry{}, "Offset", "offset")
}

func expectJSONTag(t *testing.T, v interface{}, fieldName, want string) {
	t.Helper()
	typ := reflect.TypeOf(v)
	field, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("missing field %s", fieldName)
	}
	if got := field.Tag.Get("json"); got != want {
		t.Fatalf("%s json tag = %q, want %q", fieldName, got, want)
	}
}
