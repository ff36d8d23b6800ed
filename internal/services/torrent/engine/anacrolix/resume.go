package anacrolix

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

var errEmptyBlob = errors.New("empty blob")

// resumeData is the bencoded resume blob. It carries the metainfo so a
// restart does not have to fetch metadata from the swarm again.
type resumeData struct {
	InfoHash       string `bencode:"info-hash"`
	MetaInfo       []byte `bencode:"metainfo"`
	FilePriorities []int  `bencode:"file-priorities"`
	Pieces         []byte `bencode:"pieces"`
	SavePath       string `bencode:"save-path,omitempty"`
}

func encodeResume(r resumeData) ([]byte, error) {
	return bencode.Marshal(r)
}

func decodeResume(data []byte) (resumeData, error) {
	var r resumeData
	if len(data) == 0 {
		return r, errEmptyBlob
	}
	if err := bencode.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode resume data: %w", err)
	}
	if r.InfoHash == "" {
		return r, errors.New("decode resume data: missing info hash")
	}
	return r, nil
}

func (r resumeData) metainfo() (*metainfo.MetaInfo, error) {
	if len(r.MetaInfo) == 0 {
		return nil, errEmptyBlob
	}
	return metainfo.Load(bytes.NewReader(r.MetaInfo))
}

// completedPieces counts set bits of the piece bitfield.
func (r resumeData) completedPieces() int {
	n := 0
	for _, b := range r.Pieces {
		for ; b != 0; b &= b - 1 {
			n++
		}
	}
	return n
}

// sessionState is the bencoded session state blob.
type sessionState struct {
	PeerID     []byte `bencode:"peer-id"`
	ListenPort int    `bencode:"listen-port"`
}

func encodeState(s sessionState) ([]byte, error) {
	return bencode.Marshal(s)
}

func decodeState(data []byte) (sessionState, error) {
	var s sessionState
	if len(data) == 0 {
		return s, errEmptyBlob
	}
	if err := bencode.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode session state: %w", err)
	}
	return s, nil
}

// bitfield packs piece completion MSB first, matching the BitTorrent wire
// format.
func bitfield(numPieces int, have func(int) bool) []byte {
	if numPieces <= 0 {
		return nil
	}
	buf := make([]byte, (numPieces+7)/8)
	for i := 0; i < numPieces; i++ {
		if have(i) {
			buf[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return buf
}
