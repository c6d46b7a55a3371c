package decoder

import (
	"bytes"
	"log/slog"

	"github.com/mr-tron/base58"

	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/solana"
)

// PumpFunProgramID is the bonding-curve launch program.
const PumpFunProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

var (
	migrateInstruction = []byte{155, 234, 231, 146, 236, 158, 162, 30}
	migrateEvent       = eventDiscriminator(189, 233, 93, 185, 92, 148, 234, 148)
)

// Migrate instruction and event layout.
const (
	migrateMinAccounts = 24
	migrateMintAccount = 2

	// Offsets include the 16-byte event discriminator.
	migrateTokenAmountOffset = 80
	migrateSolAmountOffset   = 88
	migratePoolOffset        = 144
	migrateEventMinLen       = migratePoolOffset + 32
)

// PumpFunDecoder decodes migrations of bonding-curve tokens into AMM pools.
type PumpFunDecoder struct {
	opts Options
}

// NewPumpFunDecoder creates a migration decoder.
func NewPumpFunDecoder(opts Options) *PumpFunDecoder {
	return &PumpFunDecoder{opts: opts.withDefaults()}
}

var _ Decoder = (*PumpFunDecoder)(nil)

// ProgramID implements Decoder.
func (d *PumpFunDecoder) ProgramID() string { return PumpFunProgramID }

// Decode returns a Migrate event for the first migrate instruction whose
// inner event confirms it. Unconfirmed migrations are not reported.
func (d *PumpFunDecoder) Decode(env *solana.TransactionEnvelope) *domain.Event {
	if env == nil {
		return nil
	}

	for i, ix := range env.Instructions {
		program, ok := env.ProgramID(ix)
		if !ok || program != PumpFunProgramID {
			continue
		}
		if len(ix.Data) < instructionDiscriminatorLen {
			continue
		}
		if !bytes.Equal(ix.Data[:instructionDiscriminatorLen], migrateInstruction) {
			continue
		}
		if len(ix.Accounts) < migrateMinAccounts {
			d.opts.Logger.Debug("migrate instruction has too few accounts",
				slog.String("signature", env.SignatureString()),
				slog.Int("accounts", len(ix.Accounts)))
			continue
		}
		mint, ok := env.InstructionAccount(ix, migrateMintAccount)
		if !ok {
			continue
		}

		payload := findInnerEvent(env, i, migrateEvent)
		if payload == nil {
			continue
		}
		ev, ok := parseMigrateEvent(payload)
		if !ok {
			d.opts.Logger.Debug("malformed migrate event",
				slog.String("signature", env.SignatureString()),
				slog.Int("len", len(payload)))
			continue
		}
		ev.Mint = mint

		out := newEvent(domain.EventKindMigrate, env, d.opts.Now())
		out.Migrate = ev
		return out
	}
	return nil
}

func parseMigrateEvent(data []byte) (*domain.MigrateEvent, bool) {
	if len(data) < migrateEventMinLen {
		return nil, false
	}
	tokenAmount, _ := readU64(data, migrateTokenAmountOffset)
	solAmount, _ := readU64(data, migrateSolAmountOffset)

	return &domain.MigrateEvent{
		Pool:        base58.Encode(data[migratePoolOffset : migratePoolOffset+32]),
		SolAmount:   solAmount,
		TokenAmount: tokenAmount,
	}, true
}
