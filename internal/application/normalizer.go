package application

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"chainlens/internal/domain"
)

// NormalizationError reports a raw block that cannot be converted into
// canonical records, naming the field that was missing or malformed.
type NormalizationError struct {
	Field     string
	BlockHash string
	Err       error
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize block %s: field %s: %v", e.BlockHash, e.Field, e.Err)
	}
	return fmt.Sprintf("normalize block %s: field %s is missing", e.BlockHash, e.Field)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

var weiPerEth = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// NormalizeBlock converts a raw hex-encoded block into canonical transaction
// records, one per raw transaction, preserving input order.
//
// A block without a timestamp fails normalization outright: substituting
// wall-clock ingestion time would silently corrupt every windowed aggregate.
// Optional numeric fields that legacy transactions omit (type, chainId)
// normalize to zero. Status is always StatusSuccess because the block fetch
// carries no receipts; real failed/pending detection needs receipt lookups.
func NormalizeBlock(block domain.RawBlock) ([]domain.Transaction, error) {
	if strings.TrimSpace(block.Timestamp) == "" {
		return nil, &NormalizationError{Field: "timestamp", BlockHash: block.Hash}
	}
	seconds, err := hexToUint(block.Timestamp)
	if err != nil {
		return nil, &NormalizationError{Field: "timestamp", BlockHash: block.Hash, Err: err}
	}
	timestamp := time.Unix(int64(seconds), 0).UTC()

	blockNumber, err := hexToUint(block.Number)
	if err != nil {
		return nil, &NormalizationError{Field: "number", BlockHash: block.Hash, Err: err}
	}
	blockHash := strings.ToLower(block.Hash)

	records := make([]domain.Transaction, 0, len(block.Transactions))
	for _, raw := range block.Transactions {
		record, err := normalizeTransaction(raw, blockNumber, blockHash, timestamp)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func normalizeTransaction(raw domain.RawTransaction, blockNumber uint64, blockHash string, timestamp time.Time) (domain.Transaction, error) {
	value, err := hexToBig(raw.Value)
	if err != nil {
		return domain.Transaction{}, &NormalizationError{Field: "value", BlockHash: blockHash, Err: err}
	}
	gasPrice, err := hexToBig(raw.GasPrice)
	if err != nil {
		return domain.Transaction{}, &NormalizationError{Field: "gasPrice", BlockHash: blockHash, Err: err}
	}
	gas, err := hexToUint(raw.Gas)
	if err != nil {
		return domain.Transaction{}, &NormalizationError{Field: "gas", BlockHash: blockHash, Err: err}
	}
	nonce, err := hexToUint(raw.Nonce)
	if err != nil {
		return domain.Transaction{}, &NormalizationError{Field: "nonce", BlockHash: blockHash, Err: err}
	}
	txIndex, err := hexToUint(raw.TransactionIndex)
	if err != nil {
		return domain.Transaction{}, &NormalizationError{Field: "transactionIndex", BlockHash: blockHash, Err: err}
	}
	txType, err := hexToUint(raw.Type)
	if err != nil {
		return domain.Transaction{}, &NormalizationError{Field: "type", BlockHash: blockHash, Err: err}
	}
	chainID, err := hexToUint(raw.ChainID)
	if err != nil {
		return domain.Transaction{}, &NormalizationError{Field: "chainId", BlockHash: blockHash, Err: err}
	}

	// An absent recipient marks contract creation; it must stay nil, never
	// become an empty string or zero address.
	var to *string
	if strings.TrimSpace(raw.To) != "" {
		lowered := strings.ToLower(raw.To)
		to = &lowered
	}

	return domain.Transaction{
		Hash:        strings.ToLower(raw.Hash),
		From:        strings.ToLower(raw.From),
		To:          to,
		ValueWei:    value.String(),
		ValueEth:    weiToEth(value),
		Status:      domain.StatusSuccess,
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
		TxIndex:     txIndex,
		Gas:         gas,
		GasPrice:    gasPrice.String(),
		Input:       raw.Input,
		Nonce:       nonce,
		TxType:      txType,
		ChainID:     chainID,
		Timestamp:   timestamp,
	}, nil
}

// weiToEth divides by 10^18 with integer arithmetic only. Trailing zeros in
// the fractional part are trimmed, so 10^18 wei yields exactly "1".
func weiToEth(wei *big.Int) string {
	whole, frac := new(big.Int).QuoRem(wei, weiPerEth, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	padded := fmt.Sprintf("%018s", frac.String())
	trimmed := strings.TrimRight(padded, "0")
	return whole.String() + "." + trimmed
}

// hexToUint parses a 0x-prefixed integer. An absent field parses to zero;
// callers that cannot tolerate absence check for the empty string first.
func hexToUint(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseUint(trimmed, 16, 64)
}

func hexToBig(value string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", value)
	}
	return parsed, nil
}
