package anacrolix

import (
	"time"

	"github.com/anacrolix/torrent"

	"torrent2http/internal/domain"
)

// nextDeadline is the largest budget still mapped to PiecePriorityNext.
const nextDeadline = 2 * time.Second

// filePriority maps the 0..7 file priority scale onto anacrolix piece
// priorities.
func filePriority(prio int) torrent.PiecePriority {
	switch {
	case prio <= domain.FilePrioritySkip:
		return torrent.PiecePriorityNone
	case prio < domain.FilePriorityHigh:
		return torrent.PiecePriorityNormal
	case prio < domain.FilePriorityMaximum:
		return torrent.PiecePriorityReadahead
	default:
		return torrent.PiecePriorityNow
	}
}

func domainPriority(prio torrent.PiecePriority) int {
	switch prio {
	case torrent.PiecePriorityNone:
		return domain.FilePrioritySkip
	case torrent.PiecePriorityNormal:
		return domain.FilePriorityNormal
	case torrent.PiecePriorityReadahead:
		return 5
	case torrent.PiecePriorityNext:
		return 6
	case torrent.PiecePriorityNow:
		return domain.FilePriorityMaximum
	default:
		return domain.FilePriorityHigh
	}
}

// deadlinePriority turns a time budget into a piece priority. anacrolix has
// no per-piece deadlines so shorter budgets map to more urgent priorities.
func deadlinePriority(deadline time.Duration) torrent.PiecePriority {
	switch {
	case deadline <= domain.UrgentDeadline:
		return torrent.PiecePriorityNow
	case deadline <= nextDeadline:
		return torrent.PiecePriorityNext
	default:
		return torrent.PiecePriorityReadahead
	}
}

// pieceRange is the half-open piece interval [start, end) covering a byte
// span of the payload.
type pieceRange struct {
	start int
	end   int
}

func computePieceRange(offset, length, pieceLength int64, numPieces int) (pieceRange, bool) {
	if pieceLength <= 0 || length <= 0 || numPieces <= 0 || offset < 0 {
		return pieceRange{}, false
	}
	start := int(offset / pieceLength)
	end := int((offset + length + pieceLength - 1) / pieceLength)
	if end > numPieces {
		end = numPieces
	}
	if start >= end {
		return pieceRange{}, false
	}
	return pieceRange{start: start, end: end}, true
}
