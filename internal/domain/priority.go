package domain

// File priorities follow the 0..7 scale used by swarm engines: 0 means the
// file is not wanted at all.
const (
	FilePrioritySkip    = 0
	FilePriorityNormal  = 1
	FilePriorityHigh    = 4
	FilePriorityMaximum = 7
)

// UrgentDeadline asks the engine to fetch a piece as soon as possible.
const UrgentDeadline = 0
