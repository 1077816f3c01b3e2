package models

import "time"

// Transaction is one on-chain transfer as seen from the address under analysis.
// The engine never mutates or persists it.
type Transaction struct {
	Hash        string    `json:"hash"`
	Address     string    `json:"address"` // Account under analysis
	Amount      float64   `json:"amount"`  // Non-negative, chain-native units (e.g. BTC)
	Timestamp   time.Time `json:"timestamp"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	Blockchain  string    `json:"blockchain"`
	BlockNumber int64     `json:"block_number,omitempty"`
	GasUsed     int64     `json:"gas_used,omitempty"`
	GasPrice    float64   `json:"gas_price,omitempty"`
}

// IsOutgoing reports whether the transfer was sent by the analysed address.
func (t Transaction) IsOutgoing() bool {
	return t.Sender != "" && t.Sender == t.Address
}

// Counterparty returns the other side of the transfer relative to Address.
func (t Transaction) Counterparty() string {
	if t.IsOutgoing() {
		return t.Recipient
	}
	return t.Sender
}
