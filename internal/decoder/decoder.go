// Package decoder turns raw transaction envelopes into typed domain events.
//
// Decoders never fail past their boundary: malformed or short payloads yield
// a nil event and a debug log line. Each decoder returns on the first
// instruction of its program that decodes, so a transaction produces at most
// one event per decoder.
package decoder

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"time"

	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/solana"
)

// Decoder maps a transaction envelope to zero or one domain event.
type Decoder interface {
	// ProgramID returns the program whose instructions this decoder reads.
	ProgramID() string
	// Decode returns the first event found in env, or nil.
	Decode(env *solana.TransactionEnvelope) *domain.Event
}

// Options configures a decoder.
type Options struct {
	Logger *slog.Logger
	// Now returns the capture time stamped on events. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

const (
	instructionDiscriminatorLen = 8
	eventDiscriminatorLen       = 16
)

// anchorEventPrefix is the self-CPI tag preceding every emitted event.
var anchorEventPrefix = []byte{228, 69, 165, 46, 81, 203, 154, 29}

func eventDiscriminator(event ...byte) []byte {
	return append(append([]byte(nil), anchorEventPrefix...), event...)
}

// findInnerEvent scans the inner instructions of top-level instruction
// index for a payload starting with the 16-byte discriminator disc.
// The whole payload, discriminator included, is returned.
func findInnerEvent(env *solana.TransactionEnvelope, index int, disc []byte) []byte {
	for _, inner := range env.InnerInstructions[index] {
		if len(inner.Data) < eventDiscriminatorLen {
			continue
		}
		if bytes.Equal(inner.Data[:eventDiscriminatorLen], disc) {
			return inner.Data
		}
	}
	return nil
}

func readU64(data []byte, offset int) (uint64, bool) {
	if offset < 0 || offset+8 > len(data) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(data[offset : offset+8]), true
}

func readI64(data []byte, offset int) (int64, bool) {
	v, ok := readU64(data, offset)
	return int64(v), ok
}

func readU8(data []byte, offset int) (uint8, bool) {
	if offset < 0 || offset >= len(data) {
		return 0, false
	}
	return data[offset], true
}

// accounts resolves the account references at positions of ix.
// ok is false if any reference is missing.
func accounts(env *solana.TransactionEnvelope, ix solana.CompiledInstruction, positions ...int) ([]string, bool) {
	out := make([]string, len(positions))
	for i, p := range positions {
		key, ok := env.InstructionAccount(ix, p)
		if !ok {
			return nil, false
		}
		out[i] = key
	}
	return out, true
}

func newEvent(kind domain.EventKind, env *solana.TransactionEnvelope, now time.Time) *domain.Event {
	return &domain.Event{
		Kind:      kind,
		Signature: env.SignatureString(),
		Slot:      env.Slot,
		Timestamp: now.UnixMilli(),
	}
}
