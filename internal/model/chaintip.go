package model

import "fmt"

// TipStatus is a node's judgement of one of its chain tips.
type TipStatus int

const (
	TipActive TipStatus = iota
	TipValidFork
	TipValidHeaders
	TipHeadersOnly
	TipInvalid
)

var tipStatusNames = map[TipStatus]string{
	TipActive:       "active",
	TipValidFork:    "valid-fork",
	TipValidHeaders: "valid-headers",
	TipHeadersOnly:  "headers-only",
	TipInvalid:      "invalid",
}

// String renders the status in the wire/storage spelling used by bitcoind.
func (s TipStatus) String() string {
	if name, ok := tipStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TipStatus(%d)", int(s))
}

// ParseTipStatus maps the getchaintips status string to a TipStatus.
func ParseTipStatus(s string) (TipStatus, error) {
	for status, name := range tipStatusNames {
		if name == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown chaintip status %q", s)
}

// Chaintip is a (node, block, status) snapshot taken each poll.
type Chaintip struct {
	ID             int64
	NodeID         int64
	Status         TipStatus
	BlockHash      string
	Height         int64
	ParentChaintip *int64
	ParentBlock    string
}
