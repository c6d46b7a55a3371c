package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// MetaplexProgramID is the Metaplex Token Metadata program.
const MetaplexProgramID = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"

const pdaMarker = "ProgramDerivedAddress"

// ErrNoViableBump is returned when no bump seed yields an off-curve address.
var ErrNoViableBump = errors.New("no viable bump seed")

// FindProgramAddress derives a Program Derived Address for seeds under programID.
// Bumps are tried from 255 down; the first off-curve hash wins.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := base58.Decode(programID)
	if err != nil {
		return "", 0, fmt.Errorf("decode program id: %w", err)
	}
	if len(program) != 32 {
		return "", 0, fmt.Errorf("program id length %d", len(program))
	}

	for bump := 255; bump > 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program)
		h.Write([]byte(pdaMarker))
		sum := h.Sum(nil)

		if !isOnCurve(sum) {
			return base58.Encode(sum), uint8(bump), nil
		}
	}
	return "", 0, ErrNoViableBump
}

// MetadataAddress returns the Metaplex metadata PDA for mint.
func MetadataAddress(mint string) (string, error) {
	mintBytes, err := base58.Decode(mint)
	if err != nil {
		return "", fmt.Errorf("decode mint: %w", err)
	}
	if len(mintBytes) != 32 {
		return "", fmt.Errorf("mint length %d", len(mintBytes))
	}
	program, _ := base58.Decode(MetaplexProgramID)

	addr, _, err := FindProgramAddress([][]byte{[]byte("metadata"), program, mintBytes}, MetaplexProgramID)
	return addr, err
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
