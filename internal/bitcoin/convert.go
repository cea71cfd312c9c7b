package bitcoin

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"github.com/goodnatureofminers/forkscanner7000-backend/pkg/safe"
)

// TransactionRows converts the transactions of a verbose block into rows for
// the transaction table. The address column records the first output address;
// a watched address wins over positional order so watch hits stay queryable.
func TransactionRows(block *Block, watched map[string]struct{}) []model.Transaction {
	rows := make([]model.Transaction, 0, len(block.Tx))
	for idx, tx := range block.Tx {
		var total float64
		addr := ""
		for _, out := range tx.Vout {
			total += out.Value
			a := out.ScriptPubKey.FirstAddress()
			if a == "" {
				continue
			}
			if addr == "" {
				addr = a
			}
			if _, ok := watched[a]; ok {
				addr = a
			}
		}

		rows = append(rows, model.Transaction{
			BlockHash:  block.Hash,
			TxID:       tx.TxID,
			IsCoinbase: idx == 0,
			Hex:        tx.Hex,
			Amount:     total,
			Address:    addr,
		})
	}
	return rows
}

// TxIDs extracts the txid list of a verbose block in block order.
func TxIDs(block *Block) []string {
	ids := make([]string, 0, len(block.Tx))
	for _, tx := range block.Tx {
		ids = append(ids, tx.TxID)
	}
	return ids
}

// CoinbaseMessage decodes the coinbase input script of a block, or nil when
// the block carries no transactions.
func CoinbaseMessage(block *Block) []byte {
	if len(block.Tx) == 0 || len(block.Tx[0].Vin) == 0 {
		return nil
	}
	msg, err := hex.DecodeString(block.Tx[0].Vin[0].Coinbase)
	if err != nil {
		return nil
	}
	return msg
}

// PoolName matches a coinbase message against known pool tags.
func PoolName(coinbase []byte, tags []model.PoolTag) string {
	if len(coinbase) == 0 {
		return ""
	}
	msg := string(coinbase)
	for _, tag := range tags {
		if tag.Tag != "" && strings.Contains(msg, tag.Tag) {
			return tag.Name
		}
	}
	return ""
}

// Satoshis converts a BTC float amount into satoshis, clamping malformed
// values to zero rather than failing the whole block.
func Satoshis(btc float64) int64 {
	amt, err := btcutil.NewAmount(btc)
	if err != nil {
		return 0
	}
	return int64(amt)
}

// AddressHits scans a verbose block for outputs paying watched addresses. Per
// transaction only the first output paying a watched address is used, and one
// row is materialised per input of that transaction; a coinbase input gives a
// row without a sending address. Input addresses come from resolve, which
// looks up the funding transaction on an archive node; inputs it cannot
// resolve produce no row.
func AddressHits(
	block *Block,
	watched map[string]struct{},
	resolve func(txid string) (*RawTransaction, error),
) []model.TransactionAddress {
	if len(watched) == 0 {
		return nil
	}

	var hits []model.TransactionAddress
	for _, tx := range block.Tx {
		receiving := ""
		var sats int64
		for _, out := range tx.Vout {
			a := out.ScriptPubKey.FirstAddress()
			if _, ok := watched[a]; ok {
				receiving = a
				sats = Satoshis(out.Value)
				break
			}
		}
		if receiving == "" {
			continue
		}

		for _, in := range tx.Vin {
			if in.IsCoinbase() {
				hits = append(hits, model.TransactionAddress{
					BlockHash: block.Hash,
					TxID:      tx.TxID,
					Receiving: receiving,
					Satoshis:  sats,
				})
				continue
			}
			prev, err := resolve(in.TxID)
			if err != nil || int(in.Vout) >= len(prev.Vout) {
				continue
			}
			vout, err := safe.Int32(in.Vout)
			if err != nil {
				continue
			}
			funding := prev.Vout[in.Vout]
			hits = append(hits, model.TransactionAddress{
				BlockHash:   block.Hash,
				TxID:        tx.TxID,
				Sending:     funding.ScriptPubKey.FirstAddress(),
				Receiving:   receiving,
				Satoshis:    sats,
				SendingVout: vout,
			})
		}
	}
	return hits
}
