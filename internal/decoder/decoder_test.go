package decoder

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/solana"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func testOptions() Options {
	return Options{Now: func() time.Time { return fixedNow }}
}

func putU64(buf []byte, offset int, v uint64) {
	binary.LittleEndian.PutUint64(buf[offset:], v)
}

// envelope builds a transaction whose account table starts with the
// program id at index 0 followed by n named accounts.
func envelope(program string, n int) *solana.TransactionEnvelope {
	keys := []string{program}
	for i := 0; i < n; i++ {
		keys = append(keys, accountName(i))
	}
	return &solana.TransactionEnvelope{
		Signature:         make([]byte, 64),
		Slot:              42,
		AccountKeys:       keys,
		InnerInstructions: map[int][]solana.CompiledInstruction{},
	}
}

func accountName(i int) string {
	return "account" + string(rune('A'+i))
}

// refs returns account references 1..n, skipping the program id.
func refs(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func tradeInstruction(disc []byte, tokenAmount, limit uint64) []byte {
	data := make([]byte, 8+16)
	copy(data, disc)
	putU64(data, 8, tokenAmount)
	putU64(data, 16, limit)
	return data
}

func tradeEventPayload(disc []byte, lpFee, protocolFee int64, quote uint64) []byte {
	data := make([]byte, eventDiscriminatorLen+tradeEventMinLen+32)
	copy(data, disc)
	body := data[eventDiscriminatorLen:]
	putU64(body, tradeEventLPFeeOffset, uint64(lpFee))
	putU64(body, tradeEventProtocolFeeOffset, uint64(protocolFee))
	putU64(body, tradeEventQuoteAmountOffset, quote)
	return data
}

func TestPumpSwap_ProvisionalBuy(t *testing.T) {
	data := []byte{0x66, 0x06, 0x3D, 0x12, 0x01, 0xDA, 0xEB, 0xEA}
	data = binary.LittleEndian.AppendUint64(data, 1000)
	data = binary.LittleEndian.AppendUint64(data, 500)

	env := envelope(PumpSwapProgramID, 5)
	env.Instructions = []solana.CompiledInstruction{{ProgramIDIndex: 0, Accounts: refs(5), Data: data}}

	ev := NewPumpSwapDecoder(testOptions()).Decode(env)
	require.NotNil(t, ev)
	require.Equal(t, domain.EventKindBuy, ev.Kind)
	require.NotNil(t, ev.Trade)

	tr := ev.Trade
	assert.Equal(t, domain.TradeSideBuy, tr.Side)
	assert.Equal(t, uint64(1000), tr.TokenAmount)
	assert.Equal(t, uint64(500), tr.SolAmount)
	assert.Equal(t, uint64(500), tr.LimitSolAmount)
	assert.Zero(t, tr.Price)
	assert.Zero(t, tr.ProtocolFee)
	assert.Zero(t, tr.LPFee)
	assert.False(t, tr.Confirmed())

	assert.Equal(t, accountName(0), tr.Pool)
	assert.Equal(t, accountName(1), tr.User)
	assert.Equal(t, accountName(3), tr.BaseMint)
	assert.Equal(t, accountName(4), tr.QuoteMint)
	assert.Equal(t, uint64(42), ev.Slot)
	assert.Equal(t, fixedNow.UnixMilli(), ev.Timestamp)
	assert.Equal(t, base58.Encode(make([]byte, 64)), ev.Signature)
}

func TestPumpSwap_BuyMergesInnerEvent(t *testing.T) {
	env := envelope(PumpSwapProgramID, 5)
	env.Instructions = []solana.CompiledInstruction{
		{ProgramIDIndex: 0, Accounts: refs(5), Data: tradeInstruction(buyInstruction, 2_000_000, 900)},
	}
	env.InnerInstructions[0] = []solana.CompiledInstruction{
		{ProgramIDIndex: 0, Data: []byte{1, 2, 3}},
		{ProgramIDIndex: 0, Data: tradeEventPayload(buyEvent, 7, 3, 800)},
	}

	ev := NewPumpSwapDecoder(testOptions()).Decode(env)
	require.NotNil(t, ev)
	require.NotNil(t, ev.Trade)

	tr := ev.Trade
	assert.Equal(t, uint64(800), tr.SolAmount, "authoritative quote amount replaces the limit")
	assert.Equal(t, uint64(900), tr.LimitSolAmount)
	assert.Equal(t, int64(7), tr.LPFee)
	assert.Equal(t, int64(3), tr.ProtocolFee)
	assert.Equal(t, float64(2_000_000)/float64(800), tr.Price)
	assert.True(t, tr.Confirmed())
}

func TestPumpSwap_SellIgnoresBuyEvent(t *testing.T) {
	env := envelope(PumpSwapProgramID, 5)
	env.Instructions = []solana.CompiledInstruction{
		{ProgramIDIndex: 0, Accounts: refs(5), Data: tradeInstruction(sellInstruction, 10, 20)},
	}
	env.InnerInstructions[0] = []solana.CompiledInstruction{
		{Data: tradeEventPayload(buyEvent, 1, 1, 99)},
	}

	ev := NewPumpSwapDecoder(testOptions()).Decode(env)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventKindSell, ev.Kind)
	assert.Equal(t, uint64(20), ev.Trade.SolAmount)
	assert.False(t, ev.Trade.Confirmed())
}

func TestPumpSwap_NegativeFees(t *testing.T) {
	env := envelope(PumpSwapProgramID, 5)
	env.Instructions = []solana.CompiledInstruction{
		{ProgramIDIndex: 0, Accounts: refs(5), Data: tradeInstruction(sellInstruction, 10, 20)},
	}
	env.InnerInstructions[0] = []solana.CompiledInstruction{
		{Data: tradeEventPayload(sellEvent, -5, -1, 25)},
	}

	ev := NewPumpSwapDecoder(testOptions()).Decode(env)
	require.NotNil(t, ev)
	assert.Equal(t, int64(-5), ev.Trade.LPFee)
	assert.Equal(t, int64(-1), ev.Trade.ProtocolFee)
	assert.Equal(t, uint64(25), ev.Trade.SolAmount)
}

func TestPumpSwap_FirstMatchingInstructionWins(t *testing.T) {
	env := envelope(PumpSwapProgramID, 5)
	env.Instructions = []solana.CompiledInstruction{
		{ProgramIDIndex: 1, Accounts: refs(5), Data: tradeInstruction(buyInstruction, 1, 1)},
		{ProgramIDIndex: 0, Accounts: refs(5), Data: tradeInstruction(sellInstruction, 3, 4)},
		{ProgramIDIndex: 0, Accounts: refs(5), Data: tradeInstruction(buyInstruction, 5, 6)},
	}

	ev := NewPumpSwapDecoder(testOptions()).Decode(env)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventKindSell, ev.Kind)
	assert.Equal(t, uint64(3), ev.Trade.TokenAmount)
}

func TestPumpSwap_CreatePool(t *testing.T) {
	data := make([]byte, 8+18)
	copy(data, createPoolInstruction)
	putU64(data, 8+createPoolBaseOffset, 1_000_000)
	putU64(data, 8+createPoolQuoteOffset, 85_000)

	tests := []struct {
		name      string
		inner     []solana.CompiledInstruction
		wantBase  int
		wantQuote int
	}{
		{name: "defaults without event", wantBase: 6, wantQuote: 9},
		{
			name: "decimals from event",
			inner: func() []solana.CompiledInstruction {
				payload := make([]byte, eventDiscriminatorLen+createPoolEventQuoteDecimalsOffset+1)
				copy(payload, createPoolEvent)
				payload[eventDiscriminatorLen+createPoolEventBaseDecimalsOffset] = 9
				payload[eventDiscriminatorLen+createPoolEventQuoteDecimalsOffset] = 9
				return []solana.CompiledInstruction{{Data: payload}}
			}(),
			wantBase:  9,
			wantQuote: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := envelope(PumpSwapProgramID, 5)
			env.Instructions = []solana.CompiledInstruction{{ProgramIDIndex: 0, Accounts: refs(5), Data: data}}
			if tt.inner != nil {
				env.InnerInstructions[0] = tt.inner
			}

			ev := NewPumpSwapDecoder(testOptions()).Decode(env)
			require.NotNil(t, ev)
			require.Equal(t, domain.EventKindCreatePool, ev.Kind)

			cp := ev.CreatePool
			assert.Equal(t, accountName(0), cp.Pool)
			assert.Equal(t, accountName(2), cp.Creator)
			assert.Equal(t, accountName(3), cp.BaseMint)
			assert.Equal(t, accountName(4), cp.QuoteMint)
			assert.Equal(t, uint64(1_000_000), cp.BaseAmount)
			assert.Equal(t, uint64(85_000), cp.QuoteAmount)
			assert.Equal(t, tt.wantBase, cp.BaseDecimals)
			assert.Equal(t, tt.wantQuote, cp.QuoteDecimals)
		})
	}
}

func TestPumpSwap_RejectsShortInput(t *testing.T) {
	dec := NewPumpSwapDecoder(testOptions())

	full := tradeInstruction(buyInstruction, 1000, 500)
	for n := 0; n < len(full); n++ {
		env := envelope(PumpSwapProgramID, 5)
		env.Instructions = []solana.CompiledInstruction{{ProgramIDIndex: 0, Accounts: refs(5), Data: full[:n]}}
		assert.Nil(t, dec.Decode(env), "len %d", n)
	}

	env := envelope(PumpSwapProgramID, 5)
	env.Instructions = []solana.CompiledInstruction{{ProgramIDIndex: 0, Accounts: refs(4), Data: full}}
	assert.Nil(t, dec.Decode(env), "too few accounts")

	env = envelope(PumpSwapProgramID, 2)
	env.Instructions = []solana.CompiledInstruction{{ProgramIDIndex: 0, Accounts: []int{1, 2, 7, 8, 9}, Data: full}}
	assert.Nil(t, dec.Decode(env), "account index out of range")

	env = envelope(PumpSwapProgramID, 5)
	env.Instructions = []solana.CompiledInstruction{{ProgramIDIndex: 99, Accounts: refs(5), Data: full}}
	assert.Nil(t, dec.Decode(env), "program index out of range")

	assert.Nil(t, dec.Decode(nil))
}

func TestPumpSwap_ShortInnerEventKeepsDraft(t *testing.T) {
	env := envelope(PumpSwapProgramID, 5)
	env.Instructions = []solana.CompiledInstruction{
		{ProgramIDIndex: 0, Accounts: refs(5), Data: tradeInstruction(buyInstruction, 1000, 500)},
	}
	env.InnerInstructions[0] = []solana.CompiledInstruction{
		{Data: tradeEventPayload(buyEvent, 1, 1, 1)[:eventDiscriminatorLen+10]},
	}

	ev := NewPumpSwapDecoder(testOptions()).Decode(env)
	require.NotNil(t, ev)
	assert.Equal(t, uint64(500), ev.Trade.SolAmount)
	assert.False(t, ev.Trade.Confirmed())
}

func migratePayload(tokenAmount, solAmount uint64, pool []byte) []byte {
	data := make([]byte, migrateEventMinLen+8)
	copy(data, migrateEvent)
	putU64(data, migrateTokenAmountOffset, tokenAmount)
	putU64(data, migrateSolAmountOffset, solAmount)
	copy(data[migratePoolOffset:], pool)
	return data
}

func TestPumpFun_Migrate(t *testing.T) {
	pool := make([]byte, 32)
	for i := range pool {
		pool[i] = byte(i + 1)
	}

	env := envelope(PumpFunProgramID, 24)
	env.Instructions = []solana.CompiledInstruction{
		{ProgramIDIndex: 0, Accounts: refs(24), Data: append(append([]byte(nil), migrateInstruction...), 0, 0)},
	}
	env.InnerInstructions[0] = []solana.CompiledInstruction{
		{Data: migratePayload(206_900_000_000_000, 84_990_359_038, pool)},
	}

	ev := NewPumpFunDecoder(testOptions()).Decode(env)
	require.NotNil(t, ev)
	require.Equal(t, domain.EventKindMigrate, ev.Kind)

	m := ev.Migrate
	assert.Equal(t, accountName(2), m.Mint)
	assert.Equal(t, base58.Encode(pool), m.Pool)
	assert.Equal(t, uint64(206_900_000_000_000), m.TokenAmount)
	assert.Equal(t, uint64(84_990_359_038), m.SolAmount)
	assert.Equal(t, fixedNow.UnixMilli(), ev.Timestamp)
}

func TestPumpFun_MigrateRequiresConfirmation(t *testing.T) {
	pool := make([]byte, 32)

	tests := []struct {
		name     string
		accounts int
		inner    map[int][]solana.CompiledInstruction
	}{
		{name: "no inner event", accounts: 24},
		{
			name:     "inner event under another instruction",
			accounts: 24,
			inner:    map[int][]solana.CompiledInstruction{1: {{Data: migratePayload(1, 1, pool)}}},
		},
		{
			name:     "truncated inner event",
			accounts: 24,
			inner:    map[int][]solana.CompiledInstruction{0: {{Data: migratePayload(1, 1, pool)[:migratePoolOffset+10]}}},
		},
		{
			name:     "too few accounts",
			accounts: 23,
			inner:    map[int][]solana.CompiledInstruction{0: {{Data: migratePayload(1, 1, pool)}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := envelope(PumpFunProgramID, 24)
			env.Instructions = []solana.CompiledInstruction{
				{ProgramIDIndex: 0, Accounts: refs(tt.accounts), Data: migrateInstruction},
			}
			if tt.inner != nil {
				env.InnerInstructions = tt.inner
			}
			assert.Nil(t, NewPumpFunDecoder(testOptions()).Decode(env))
		})
	}
}

func TestPumpFun_ShortBuffers(t *testing.T) {
	dec := NewPumpFunDecoder(testOptions())
	for n := 0; n < len(migrateInstruction); n++ {
		env := envelope(PumpFunProgramID, 24)
		env.Instructions = []solana.CompiledInstruction{
			{ProgramIDIndex: 0, Accounts: refs(24), Data: migrateInstruction[:n]},
		}
		assert.Nil(t, dec.Decode(env), "len %d", n)
	}
}

func TestDecoders_IgnoreOtherPrograms(t *testing.T) {
	env := envelope("11111111111111111111111111111111", 24)
	env.Instructions = []solana.CompiledInstruction{
		{ProgramIDIndex: 0, Accounts: refs(24), Data: migrateInstruction},
		{ProgramIDIndex: 0, Accounts: refs(5), Data: tradeInstruction(buyInstruction, 1, 1)},
	}

	assert.Nil(t, NewPumpFunDecoder(testOptions()).Decode(env))
	assert.Nil(t, NewPumpSwapDecoder(testOptions()).Decode(env))
}
