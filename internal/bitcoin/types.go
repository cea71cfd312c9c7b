package bitcoin

// ChainTip is one entry of a getchaintips response.
type ChainTip struct {
	Height    int64  `json:"height"`
	Hash      string `json:"hash"`
	BranchLen int    `json:"branchlen"`
	Status    string `json:"status"`
}

// BlockchainInfo is the subset of getblockchaininfo the scanner consumes.
type BlockchainInfo struct {
	Chain                string                  `json:"chain"`
	Blocks               int64                   `json:"blocks"`
	Headers              int64                   `json:"headers"`
	BestBlockHash        string                  `json:"bestblockhash"`
	InitialBlockDownload bool                    `json:"initialblockdownload"`
	Pruned               bool                    `json:"pruned"`
	Softforks            map[string]SoftforkInfo `json:"softforks"`
}

// SoftforkInfo is one deployment entry of getblockchaininfo.softforks.
type SoftforkInfo struct {
	Type   string    `json:"type"`
	BIP9   *BIP9Info `json:"bip9"`
	Height *int64    `json:"height"`
	Active bool      `json:"active"`
}

// BIP9Info carries versionbits deployment details.
type BIP9Info struct {
	Status string `json:"status"`
	Bit    *int   `json:"bit"`
	Since  *int64 `json:"since"`
}

// BlockHeader is a getblockheader (verbose) response.
type BlockHeader struct {
	Hash              string  `json:"hash"`
	Height            int64   `json:"height"`
	Version           int32   `json:"version"`
	MerkleRoot        string  `json:"merkleroot"`
	Time              int64   `json:"time"`
	Nonce             uint32  `json:"nonce"`
	Bits              string  `json:"bits"`
	Difficulty        float64 `json:"difficulty"`
	ChainWork         string  `json:"chainwork"`
	PreviousBlockHash string  `json:"previousblockhash"`
}

// Block is a getblock response with verbosity=2 (full transactions).
type Block struct {
	Hash              string           `json:"hash"`
	Height            int64            `json:"height"`
	Time              int64            `json:"time"`
	ChainWork         string           `json:"chainwork"`
	PreviousBlockHash string           `json:"previousblockhash"`
	Tx                []RawTransaction `json:"tx"`
}

// RawTransaction is a decoded transaction as returned inside a verbose block
// or by getrawtransaction with verbose=true.
type RawTransaction struct {
	TxID string `json:"txid"`
	Hash string `json:"hash"`
	Hex  string `json:"hex"`
	Vin  []Vin  `json:"vin"`
	Vout []Vout `json:"vout"`
}

// Vin is a transaction input.
type Vin struct {
	Coinbase string `json:"coinbase,omitempty"`
	TxID     string `json:"txid,omitempty"`
	Vout     uint32 `json:"vout"`
	Sequence uint32 `json:"sequence"`
}

// IsCoinbase reports whether the input creates new coin.
func (v Vin) IsCoinbase() bool {
	return v.Coinbase != ""
}

// Vout is a transaction output.
type Vout struct {
	Value        float64      `json:"value"`
	N            uint32       `json:"n"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

// ScriptPubKey describes an output script. Newer bitcoind versions return the
// singular address field, older ones the addresses list.
type ScriptPubKey struct {
	Asm       string   `json:"asm"`
	Hex       string   `json:"hex"`
	Type      string   `json:"type"`
	Address   string   `json:"address,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
}

// FirstAddress returns the output address regardless of bitcoind version.
func (s ScriptPubKey) FirstAddress() string {
	if s.Address != "" {
		return s.Address
	}
	if len(s.Addresses) > 0 {
		return s.Addresses[0]
	}
	return ""
}

// PeerInfo is one entry of a getpeerinfo response.
type PeerInfo struct {
	ID      int64  `json:"id"`
	Addr    string `json:"addr"`
	Version int64  `json:"version"`
	Subver  string `json:"subver"`
}

// TxOutsetInfo is a gettxoutsetinfo response.
type TxOutsetInfo struct {
	Height      int64   `json:"height"`
	BestBlock   string  `json:"bestblock"`
	TxOuts      int64   `json:"txouts"`
	TotalAmount float64 `json:"total_amount"`
}

// BlockTemplateResult is the subset of getblocktemplate the scanner consumes.
type BlockTemplateResult struct {
	Height            int64                 `json:"height"`
	PreviousBlockHash string                `json:"previousblockhash"`
	CoinbaseValue     int64                 `json:"coinbasevalue"`
	Transactions      []TemplateTransaction `json:"transactions"`
}

// TemplateTransaction is one template entry with its fee in satoshis.
type TemplateTransaction struct {
	TxID   string `json:"txid"`
	Fee    int64  `json:"fee"`
	Weight int64  `json:"weight"`
}
