package domain

// Decimal defaults for pools whose true decimals are unknown.
const (
	DefaultBaseDecimals  = 6
	DefaultQuoteDecimals = 9
)

// WSOLMint is the wrapped native token mint, the quote side of every tracked pool.
const WSOLMint = "So11111111111111111111111111111111111111112"

// Pool represents a tracked AMM pool.
// Corresponds to pools table in PostgreSQL.
type Pool struct {
	Address       string // PK
	BaseMint      string
	QuoteMint     string
	BaseDecimals  int
	QuoteDecimals int
	Metadata      *PoolMetadata // nil until enriched
}

// PoolMetadata is on-chain token metadata attached to a pool row.
type PoolMetadata struct {
	Name   string
	Symbol string
	URI    string
}
