package domain

// RawBlock is a block as returned by eth_getBlockByNumber with full
// transaction objects. All numeric fields keep the node's hex encoding;
// the normalizer owns the conversion to canonical values.
type RawBlock struct {
	Number       string           `json:"number"`
	Hash         string           `json:"hash"`
	ParentHash   string           `json:"parentHash"`
	Timestamp    string           `json:"timestamp"`
	Transactions []RawTransaction `json:"transactions"`
}

type RawTransaction struct {
	Hash             string `json:"hash"`
	From             string `json:"from"`
	To               string `json:"to"`
	Value            string `json:"value"`
	Gas              string `json:"gas"`
	GasPrice         string `json:"gasPrice"`
	Input            string `json:"input"`
	Nonce            string `json:"nonce"`
	TransactionIndex string `json:"transactionIndex"`
	Type             string `json:"type"`
	ChainID          string `json:"chainId"`
	BlockNumber      string `json:"blockNumber"`
	BlockHash        string `json:"blockHash"`
}
