package bitcoin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainTipsUnmarshal(t *testing.T) {
	t.Parallel()

	payload := `[
		{"height": 800000, "hash": "00aa", "branchlen": 0, "status": "active"},
		{"height": 799995, "hash": "00bb", "branchlen": 2, "status": "valid-fork"},
		{"height": 799990, "hash": "00cc", "branchlen": 1, "status": "invalid"}
	]`

	var tips []ChainTip
	require.NoError(t, json.Unmarshal([]byte(payload), &tips))
	require.Len(t, tips, 3)
	assert.Equal(t, int64(800000), tips[0].Height)
	assert.Equal(t, "active", tips[0].Status)
	assert.Equal(t, 2, tips[1].BranchLen)
	assert.Equal(t, "invalid", tips[2].Status)
}

func TestBlockchainInfoUnmarshal(t *testing.T) {
	t.Parallel()

	payload := `{
		"chain": "main",
		"blocks": 799990,
		"headers": 800000,
		"bestblockhash": "00aa",
		"initialblockdownload": true,
		"pruned": false,
		"softforks": {
			"taproot": {"type": "bip9", "active": true, "height": 709632,
				"bip9": {"status": "active", "bit": 2, "since": 709632}}
		}
	}`

	var info BlockchainInfo
	require.NoError(t, json.Unmarshal([]byte(payload), &info))
	assert.Equal(t, int64(10), info.Headers-info.Blocks)
	assert.True(t, info.InitialBlockDownload)

	taproot, ok := info.Softforks["taproot"]
	require.True(t, ok)
	assert.True(t, taproot.Active)
	require.NotNil(t, taproot.BIP9)
	require.NotNil(t, taproot.BIP9.Bit)
	assert.Equal(t, 2, *taproot.BIP9.Bit)
}

func TestBlockHeaderUnmarshal(t *testing.T) {
	t.Parallel()

	payload := `{
		"hash": "00aa",
		"height": 800000,
		"version": 536870912,
		"merkleroot": "91f8",
		"time": 1690168629,
		"nonce": 1863168739,
		"bits": "17053894",
		"difficulty": 53911173001054.59,
		"chainwork": "00000000000000000000000000000000000000004fc85ab3390629e495bf13d5",
		"previousblockhash": "0099"
	}`

	var header BlockHeader
	require.NoError(t, json.Unmarshal([]byte(payload), &header))
	assert.Equal(t, "0099", header.PreviousBlockHash)
	assert.Equal(t, "00000000000000000000000000000000000000004fc85ab3390629e495bf13d5", header.ChainWork)
	assert.Equal(t, int64(800000), header.Height)
}

func TestVinCoinbaseDetection(t *testing.T) {
	t.Parallel()

	assert.True(t, Vin{Coinbase: "03a0"}.IsCoinbase())
	assert.False(t, Vin{TxID: "feed", Vout: 0}.IsCoinbase())
}
