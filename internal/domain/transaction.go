package domain

import "time"

// Status is the execution status of a transaction. The ingestion pipeline
// records every mined transaction as StatusSuccess because the minimal block
// fetch carries no receipt data; see the normalizer for the simplification.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Transaction is the canonical persisted record, decoupled from the node's
// hex encoding. ValueWei is the field of record (base-10, arbitrary
// precision); ValueEth is derived for display and must never be recomputed
// from floats.
type Transaction struct {
	Hash        string    `json:"hash"`
	From        string    `json:"from"`
	To          *string   `json:"to"` // nil means contract creation
	ValueWei    string    `json:"value_wei"`
	ValueEth    string    `json:"value_eth"`
	Status      Status    `json:"status"`
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	TxIndex     uint64    `json:"tx_index"`
	Gas         uint64    `json:"gas"`
	GasPrice    string    `json:"gas_price"`
	Input       string    `json:"input"`
	Nonce       uint64    `json:"nonce"`
	TxType      uint64    `json:"tx_type"`
	ChainID     uint64    `json:"chain_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// Category classifies transactions for the feed's categorical filter.
type Category string

const (
	CategoryTokenTransfer Category = "token-transfer" // value > 0
	CategoryContractCall  Category = "contract-call"  // value = 0
	CategoryFailed        Category = "failed"         // status = failed
)

func ParseCategory(raw string) (Category, bool) {
	switch Category(raw) {
	case CategoryTokenTransfer, CategoryContractCall, CategoryFailed:
		return Category(raw), true
	}
	return "", false
}
