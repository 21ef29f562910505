package domain

// ThroughputStats summarizes activity over a trailing one-minute window.
type ThroughputStats struct {
	TPS             float64 `json:"tps"`
	BlocksPerMinute uint64  `json:"blocks_per_minute"`
	ActiveAddresses uint64  `json:"active_addresses"`
	TxCount         uint64  `json:"tx_count"`
}

// LeaderboardRow ranks one address over a trailing N-day window. Rows are
// ordered by the primary metric descending, ties broken by address ascending.
type LeaderboardRow struct {
	Address       string `json:"address"`
	TxCount       uint64 `json:"tx_count"`
	TotalValueWei string `json:"total_value_wei"`
}

// AddressSummary aggregates an address over the full table (no window).
type AddressSummary struct {
	Address       string `json:"address"`
	SentCount     uint64 `json:"sent_count"`
	ReceivedCount uint64 `json:"received_count"`
	TotalValueWei string `json:"total_value_wei"`
}
