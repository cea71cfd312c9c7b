package model

import "time"

// Transaction is a transaction persisted for a block inside the double-spend
// window of a stale candidate.
type Transaction struct {
	BlockHash  string
	TxID       string
	IsCoinbase bool
	Hex        string
	Amount     float64
	Address    string
	Swept      bool
}

// TxInput identifies an outpoint consumed by a transaction.
type TxInput struct {
	TxID string
	Vout uint32
}

// Watched is an address under observation until the watch expires.
type Watched struct {
	Address    string
	CreatedAt  time.Time
	WatchUntil time.Time
}

// TransactionAddress is a watched-address hit materialised from a block.
type TransactionAddress struct {
	BlockHash   string
	TxID        string
	Sending     string
	Receiving   string
	Satoshis    int64
	SendingVout int32
	CreatedAt   time.Time
	NotifiedAt  *time.Time
}
