package model

import (
	"math/big"
	"strings"
	"time"
)

// ZeroHash is the all-zero parent of the genesis block.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Block is one node's view of a block header or full block.
type Block struct {
	Hash            string
	Height          int64
	ParentHash      string
	Connected       bool
	HeadersOnly     bool
	FirstSeenBy     int64
	Work            string
	TxIDs           []string
	PoolName        string
	CoinbaseMessage []byte
	TotalFee        *float64
	FirstSeenAt     time.Time
}

// WorkInt parses the accumulated chainwork hex into a big integer.
// Returns zero for malformed or empty work strings.
func (b Block) WorkInt() *big.Int {
	w, ok := new(big.Int).SetString(strings.TrimPrefix(b.Work, "0x"), 16)
	if !ok {
		return new(big.Int)
	}
	return w
}

// CompareWork orders two chainwork hex strings, -1 if a < b, 0, or 1.
func CompareWork(a, b string) int {
	wa, ok := new(big.Int).SetString(strings.TrimPrefix(a, "0x"), 16)
	if !ok {
		wa = new(big.Int)
	}
	wb, ok := new(big.Int).SetString(strings.TrimPrefix(b, "0x"), 16)
	if !ok {
		wb = new(big.Int)
	}
	return wa.Cmp(wb)
}

// BlockMark records a node's explicit validity judgement for a block.
type BlockMark struct {
	Hash      string
	NodeID    int64
	CreatedAt time.Time
}

// ConflictingBlock is a block marked valid by some nodes and invalid by others.
type ConflictingBlock struct {
	Hash      string  `json:"hash"`
	ValidBy   []int64 `json:"valid_by"`
	InvalidBy []int64 `json:"invalid_by"`
}

// EarliestInvalidator returns the lowest node id that marked the block invalid.
func (c ConflictingBlock) EarliestInvalidator() int64 {
	if len(c.InvalidBy) == 0 {
		return 0
	}
	min := c.InvalidBy[0]
	for _, id := range c.InvalidBy[1:] {
		if id < min {
			min = id
		}
	}
	return min
}
