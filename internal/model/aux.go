package model

import "time"

// TxOutset is a gettxoutsetinfo snapshot for a block on one node.
type TxOutset struct {
	BlockHash   string
	NodeID      int64
	TxOuts      int64
	TotalAmount float64
	Inflated    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InflatedBlock records a block whose supply delta exceeded the allowed subsidy.
type InflatedBlock struct {
	BlockHash       string
	NodeID          int64
	MaxInflation    float64
	ActualInflation float64
	NotifiedAt      time.Time
	DismissedAt     *time.Time
}

// BlockTemplate is a getblocktemplate snapshot keyed by the parent block.
type BlockTemplate struct {
	ParentBlockHash string
	NodeID          int64
	FeeTotal        float64
	Timestamp       time.Time
	Height          int64
	NTransactions   int
	TxIDs           []string
	LowestFeeRate   int
}

// FeeRate is one template transaction fee rate observed for a parent block.
type FeeRate struct {
	ParentBlockHash string
	NodeID          int64
	FeeRate         int
	Omitted         bool
}

// Softfork is a softfork deployment status reported by one node.
type Softfork struct {
	NodeID     int64
	ForkType   string
	Name       string
	Bit        *int
	Active     bool
	Since      *int64
	NotifiedAt time.Time
}

// PoolTag maps a coinbase tag to a mining pool.
type PoolTag struct {
	Tag  string
	Name string
	URL  string
}
