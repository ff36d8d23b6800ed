package domain

import "time"

// FileEntry describes one logical file of the torrent payload. Offset is the
// byte position of the file inside the concatenation of all files.
type FileEntry struct {
	Index   int       `json:"index"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Offset  int64     `json:"offset"`
	ModTime time.Time `json:"modTime"`
}

// PieceAt maps a read offset inside the file to the covering piece index.
func (f FileEntry) PieceAt(offset, pieceLength int64) int {
	if pieceLength <= 0 {
		return 0
	}
	return int((f.Offset + offset) / pieceLength)
}

type Metadata struct {
	Name        string
	Files       []FileEntry
	PieceLength int64
	NumPieces   int
}

// FileProgress is a FileEntry annotated with download progress.
type FileProgress struct {
	FileEntry
	Downloaded int64
	Progress   float64
}

func NewFileProgress(entry FileEntry, downloaded int64) FileProgress {
	fp := FileProgress{FileEntry: entry, Downloaded: downloaded}
	if entry.Size > 0 {
		fp.Progress = float64(downloaded) / float64(entry.Size)
		if fp.Progress > 1 {
			fp.Progress = 1
		}
	}
	return fp
}
