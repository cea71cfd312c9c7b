package model

import "time"

// StaleCandidate is a height at which more than one block is known while the
// previous height is unambiguous.
type StaleCandidate struct {
	Height                      int64
	NChildren                   int
	ConfirmedInOneBranchTotal   float64
	DoubleSpentInOneBranchTotal float64
	RBFTotal                    float64
	HeightProcessed             *int64
	MissingTransactions         bool
	CreatedAt                   time.Time
}

// StaleCandidateChild is one branch of a fork collapsed to root/tip/length.
type StaleCandidateChild struct {
	CandidateHeight int64
	RootHash        string
	TipHash         string
	Length          int
}

// Lag is an open-ended interval during which a node trails the global tip.
type Lag struct {
	NodeID    int64
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Open reports whether the node is still lagging.
func (l Lag) Open() bool {
	return l.DeletedAt == nil
}
