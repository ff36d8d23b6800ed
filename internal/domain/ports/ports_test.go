package ports

import (
	"context"
	"reflect"
	"testing"
	"time"

	"torrent2http/internal/domain"
)

func TestSwarmInterface(t *testing.T) {
	typ := reflect.TypeOf((*Swarm)(nil)).Elem()

	assertMethod(t, typ, "AddTorrent", []reflect.Type{
		contextType(),
		reflect.TypeOf(AddTorrentParams{}),
	}, []reflect.Type{
		reflect.TypeOf((*Torrent)(nil)).Elem(),
		errorType(),
	})
	assertMethod(t, typ, "RemoveTorrent", []reflect.Type{
		reflect.TypeOf((*Torrent)(nil)).Elem(),
		reflect.TypeOf(false),
	}, []reflect.Type{errorType()})
	assertMethod(t, typ, "PopAlerts", nil, []reflect.Type{reflect.SliceOf(reflect.TypeOf(domain.Alert{}))})
	assertMethod(t, typ, "WaitForAlert", []reflect.Type{reflect.TypeOf(time.Duration(0))}, []reflect.Type{reflect.TypeOf(false)})
	assertMethod(t, typ, "SaveState", nil, []reflect.Type{reflect.TypeOf([]byte(nil)), errorType()})
	assertMethod(t, typ, "ListenPort", nil, []reflect.Type{reflect.TypeOf(0)})
	assertMethod(t, typ, "Close", nil, []reflect.Type{errorType()})
}

func TestTorrentInterface(t *testing.T) {
	typ := reflect.TypeOf((*Torrent)(nil)).Elem()
	intType := reflect.TypeOf(0)

	assertMethod(t, typ, "InfoHash", nil, []reflect.Type{reflect.TypeOf("")})
	assertMethod(t, typ, "Status", nil, []reflect.Type{reflect.TypeOf(domain.TorrentStatus{})})
	assertMethod(t, typ, "HasMetadata", nil, []reflect.Type{reflect.TypeOf(false)})
	assertMethod(t, typ, "Metadata", nil, []reflect.Type{reflect.TypeOf(domain.Metadata{}), errorType()})
	assertMethod(t, typ, "HavePiece", []reflect.Type{intType}, []reflect.Type{reflect.TypeOf(false)})
	assertMethod(t, typ, "PiecePriority", []reflect.Type{intType}, []reflect.Type{intType})
	assertMethod(t, typ, "SetPieceDeadline", []reflect.Type{intType, reflect.TypeOf(time.Duration(0))}, nil)
	assertMethod(t, typ, "FilePriorities", nil, []reflect.Type{reflect.SliceOf(intType)})
	assertMethod(t, typ, "SetFilePriority", []reflect.Type{intType, intType}, nil)
	assertMethod(t, typ, "FileProgress", nil, []reflect.Type{reflect.SliceOf(reflect.TypeOf(int64(0)))})
	assertMethod(t, typ, "Peers", nil, []reflect.Type{reflect.SliceOf(reflect.TypeOf(domain.PeerInfo{}))})
	assertMethod(t, typ, "Trackers", nil, []reflect.Type{reflect.SliceOf(reflect.TypeOf(domain.TrackerInfo{}))})
	assertMethod(t, typ, "SaveResumeData", nil, nil)
	assertMethod(t, typ, "Pause", nil, nil)
}

func TestBlobStoreInterface(t *testing.T) {
	typ := reflect.TypeOf((*BlobStore)(nil)).Elem()

	assertMethod(t, typ, "Load", []reflect.Type{contextType(), reflect.TypeOf("")}, []reflect.Type{reflect.TypeOf([]byte(nil)), errorType()})
	assertMethod(t, typ, "Save", []reflect.Type{contextType(), reflect.TypeOf(""), reflect.TypeOf([]byte(nil))}, []reflect.Type{errorType()})
}

func assertMethod(t *testing.T, typ reflect.Type, name string, in []reflect.Type, out []reflect.Type) {
	t.Helper()
	method, ok := typ.MethodByName(name)
	if !ok {
		t.Fatalf("missing method %s", name)
	}

	wantIn := len(in)
	if method.Type.NumIn() != wantIn {
		t.Fatalf("%s NumIn = %d, want %d", name, method.Type.NumIn(), wantIn)
	}
	for i, typIn := range in {
		if got := method.Type.In(i); got != typIn {
			t.Fatalf("%s In[%d] = %s, want %s", name, i, got, typIn)
		}
	}

	if method.Type.NumOut() != len(out) {
		t.Fatalf("%s NumOut = %d, want %d", name, method.Type.NumOut(), len(out))
	}
	for i, typOut := range out {
		if got := method.Type.Out(i); got != typOut {
			t.Fatalf("%s Out[%d] = %s, want %s", name, i, got, typOut)
		}
	}
}

func contextType() reflect.Type {
	return reflect.TypeOf((*context.Context)(nil)).Elem()
}

func errorType() reflect.Type {
	return reflect.TypeOf((*error)(nil)).Elem()
}
