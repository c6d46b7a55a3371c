package domain

// EventKind identifies the variant carried by an Event.
type EventKind string

// Event kinds produced by the decoders.
const (
	EventKindMigrate    EventKind = "MIGRATE"
	EventKindCreatePool EventKind = "CREATE_POOL"
	EventKindBuy        EventKind = "BUY"
	EventKindSell       EventKind = "SELL"
)

// Event is a typed domain event decoded from a single transaction.
// Exactly one of Migrate, CreatePool or Trade is set, matching Kind.
type Event struct {
	Kind      EventKind
	Signature string // base58 transaction signature
	Slot      uint64
	Timestamp int64 // capture time, Unix milliseconds

	Migrate    *MigrateEvent
	CreatePool *CreatePoolEvent
	Trade      *TradeEvent
}

// MigrateEvent is emitted when a bonding-curve token graduates into an AMM pool.
type MigrateEvent struct {
	Mint        string
	Pool        string
	SolAmount   uint64
	TokenAmount uint64
}

// CreatePoolEvent is emitted when an AMM pool is created.
type CreatePoolEvent struct {
	Pool          string
	Creator       string
	BaseMint      string
	QuoteMint     string
	BaseAmount    uint64
	QuoteAmount   uint64
	BaseDecimals  int
	QuoteDecimals int
}

// TradeEvent is a buy or sell against an AMM pool.
// Amounts are raw on-chain integers, not decimal-adjusted.
type TradeEvent struct {
	Side           TradeSide
	Pool           string
	User           string
	BaseMint       string
	QuoteMint      string
	TokenAmount    uint64
	SolAmount      uint64
	LimitSolAmount uint64 // max quote in (buy) or min quote out (sell)
	ProtocolFee    int64
	LPFee          int64
	Price          float64 // raw tokenAmount / solAmount, 0 when unconfirmed
}

// Confirmed reports whether the trade was merged with its inner event.
func (t *TradeEvent) Confirmed() bool {
	return t.Price != 0 || t.ProtocolFee != 0 || t.LPFee != 0
}
