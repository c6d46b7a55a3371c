package decoder

import (
	"bytes"
	"log/slog"

	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/solana"
)

// PumpSwapProgramID is the constant-product AMM that migrated tokens trade on.
const PumpSwapProgramID = "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"

var (
	buyInstruction        = []byte{102, 6, 61, 18, 1, 218, 235, 234}
	sellInstruction       = []byte{51, 230, 133, 164, 1, 127, 131, 173}
	createPoolInstruction = []byte{233, 146, 209, 142, 207, 104, 64, 188}

	buyEvent        = eventDiscriminator(103, 244, 82, 31, 44, 245, 119, 119)
	sellEvent       = eventDiscriminator(62, 47, 55, 10, 165, 3, 220, 42)
	createPoolEvent = eventDiscriminator(177, 49, 12, 210, 160, 118, 167, 116)
)

// Instruction layouts, offsets relative to the data after the 8-byte discriminator.
const (
	createPoolMinData     = 18
	createPoolBaseOffset  = 2
	createPoolQuoteOffset = 10
	createPoolMinAccounts = 5

	tradeMinData     = 16
	tradeMinAccounts = 5
)

// Event layouts, offsets relative to the data after the 16-byte discriminator.
const (
	tradeEventLPFeeOffset       = 88
	tradeEventProtocolFeeOffset = 104
	tradeEventQuoteAmountOffset = 120
	tradeEventMinLen            = tradeEventQuoteAmountOffset + 8

	createPoolEventBaseDecimalsOffset  = 122
	createPoolEventQuoteDecimalsOffset = 123
)

// PumpSwapDecoder decodes pool creations and trades on the AMM.
type PumpSwapDecoder struct {
	opts Options
}

// NewPumpSwapDecoder creates an AMM decoder.
func NewPumpSwapDecoder(opts Options) *PumpSwapDecoder {
	return &PumpSwapDecoder{opts: opts.withDefaults()}
}

var _ Decoder = (*PumpSwapDecoder)(nil)

// ProgramID implements Decoder.
func (d *PumpSwapDecoder) ProgramID() string { return PumpSwapProgramID }

// Decode returns the event for the first AMM instruction carrying a known
// discriminator. Trades without a confirming inner event are returned as
// provisional drafts with zero price and fees.
func (d *PumpSwapDecoder) Decode(env *solana.TransactionEnvelope) *domain.Event {
	if env == nil {
		return nil
	}

	for i, ix := range env.Instructions {
		program, ok := env.ProgramID(ix)
		if !ok || program != PumpSwapProgramID {
			continue
		}
		if len(ix.Data) < instructionDiscriminatorLen {
			continue
		}

		disc := ix.Data[:instructionDiscriminatorLen]
		rest := ix.Data[instructionDiscriminatorLen:]

		switch {
		case bytes.Equal(disc, buyInstruction):
			return d.decodeTrade(env, i, ix, rest, domain.TradeSideBuy)
		case bytes.Equal(disc, sellInstruction):
			return d.decodeTrade(env, i, ix, rest, domain.TradeSideSell)
		case bytes.Equal(disc, createPoolInstruction):
			return d.decodeCreatePool(env, i, ix, rest)
		}
	}
	return nil
}

func (d *PumpSwapDecoder) decodeCreatePool(env *solana.TransactionEnvelope, index int, ix solana.CompiledInstruction, data []byte) *domain.Event {
	if len(data) < createPoolMinData || len(ix.Accounts) < createPoolMinAccounts {
		d.fault(env, "short create_pool instruction", len(data))
		return nil
	}
	keys, ok := accounts(env, ix, 0, 2, 3, 4)
	if !ok {
		d.fault(env, "create_pool account out of range", len(ix.Accounts))
		return nil
	}

	baseAmount, _ := readU64(data, createPoolBaseOffset)
	quoteAmount, _ := readU64(data, createPoolQuoteOffset)

	ev := &domain.CreatePoolEvent{
		Pool:          keys[0],
		Creator:       keys[1],
		BaseMint:      keys[2],
		QuoteMint:     keys[3],
		BaseAmount:    baseAmount,
		QuoteAmount:   quoteAmount,
		BaseDecimals:  domain.DefaultBaseDecimals,
		QuoteDecimals: domain.DefaultQuoteDecimals,
	}

	if payload := findInnerEvent(env, index, createPoolEvent); payload != nil {
		body := payload[eventDiscriminatorLen:]
		if v, ok := readU8(body, createPoolEventBaseDecimalsOffset); ok {
			ev.BaseDecimals = int(v)
		}
		if v, ok := readU8(body, createPoolEventQuoteDecimalsOffset); ok {
			ev.QuoteDecimals = int(v)
		}
	}

	out := newEvent(domain.EventKindCreatePool, env, d.opts.Now())
	out.CreatePool = ev
	return out
}

func (d *PumpSwapDecoder) decodeTrade(env *solana.TransactionEnvelope, index int, ix solana.CompiledInstruction, data []byte, side domain.TradeSide) *domain.Event {
	if len(data) < tradeMinData || len(ix.Accounts) < tradeMinAccounts {
		d.fault(env, "short trade instruction", len(data))
		return nil
	}
	keys, ok := accounts(env, ix, 0, 1, 3, 4)
	if !ok {
		d.fault(env, "trade account out of range", len(ix.Accounts))
		return nil
	}

	// base_amount_out/max_quote_amount_in for buys,
	// base_amount_in/min_quote_amount_out for sells.
	tokenAmount, _ := readU64(data, 0)
	limit, _ := readU64(data, 8)

	trade := &domain.TradeEvent{
		Side:           side,
		Pool:           keys[0],
		User:           keys[1],
		BaseMint:       keys[2],
		QuoteMint:      keys[3],
		TokenAmount:    tokenAmount,
		SolAmount:      limit,
		LimitSolAmount: limit,
	}

	disc := buyEvent
	if side == domain.TradeSideSell {
		disc = sellEvent
	}
	if payload := findInnerEvent(env, index, disc); payload != nil {
		if !mergeTradeEvent(trade, payload[eventDiscriminatorLen:]) {
			d.fault(env, "short trade event", len(payload))
		}
	}

	kind := domain.EventKindBuy
	if side == domain.TradeSideSell {
		kind = domain.EventKindSell
	}
	out := newEvent(kind, env, d.opts.Now())
	out.Trade = trade
	return out
}

// mergeTradeEvent overwrites the provisional quote amount with the
// authoritative one from the event and fills fees and price.
func mergeTradeEvent(trade *domain.TradeEvent, body []byte) bool {
	if len(body) < tradeEventMinLen {
		return false
	}
	lpFee, _ := readI64(body, tradeEventLPFeeOffset)
	protocolFee, _ := readI64(body, tradeEventProtocolFeeOffset)
	quote, _ := readU64(body, tradeEventQuoteAmountOffset)

	trade.LPFee = lpFee
	trade.ProtocolFee = protocolFee
	trade.SolAmount = quote
	if trade.TokenAmount > 0 && trade.SolAmount > 0 {
		trade.Price = float64(trade.TokenAmount) / float64(trade.SolAmount)
	}
	return true
}

func (d *PumpSwapDecoder) fault(env *solana.TransactionEnvelope, msg string, n int) {
	d.opts.Logger.Debug(msg,
		slog.String("signature", env.SignatureString()),
		slog.Uint64("slot", env.Slot),
		slog.Int("len", n))
}
