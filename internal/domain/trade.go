package domain

import "time"

// TradeSide is the direction of a trade relative to the base token.
type TradeSide string

// Trade side constants.
const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// NormalizedTrade is the display record fanned out to subscribers.
// Amounts are decimal-adjusted; price is quote per base.
type NormalizedTrade struct {
	TxHash      string    `json:"txHash"`
	Type        TradeSide `json:"type"`
	Price       float64   `json:"price"`
	BaseAmount  float64   `json:"amount"`
	QuoteAmount float64   `json:"volume"`
	Time        int64     `json:"time"` // Unix milliseconds
	Maker       string    `json:"maker"`
}

// TradeRow is a persisted trade.
// Corresponds to trades table in PostgreSQL / ClickHouse.
type TradeRow struct {
	TxHash      string
	Time        time.Time
	PoolAddress string
	Type        TradeSide
	Price       float64
	BaseAmount  float64
	QuoteAmount float64
}

// NewPoolNotice is the global notification broadcast when a pool graduates.
type NewPoolNotice struct {
	Address     string `json:"address"`
	Mint        string `json:"mint"`
	SolAmount   string `json:"solAmount"`
	TokenAmount string `json:"tokenAmount"`
	Timestamp   int64  `json:"timestamp"`
}
