package solana

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataAddress_Deterministic(t *testing.T) {
	const mint = "So11111111111111111111111111111111111111112"

	first, err := MetadataAddress(mint)
	require.NoError(t, err)
	second, err := MetadataAddress(mint)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	raw, err := base58.Decode(first)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	assert.False(t, isOnCurve(raw), "PDA must be off the ed25519 curve")
}

func TestMetadataAddress_DiffersPerMint(t *testing.T) {
	a, err := MetadataAddress("So11111111111111111111111111111111111111112")
	require.NoError(t, err)
	b, err := MetadataAddress("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestMetadataAddress_InvalidMint(t *testing.T) {
	_, err := MetadataAddress("not-base58-0OIl")
	assert.Error(t, err)

	_, err = MetadataAddress("abc")
	assert.Error(t, err)
}

func TestFindProgramAddress_InvalidProgram(t *testing.T) {
	_, _, err := FindProgramAddress([][]byte{[]byte("seed")}, "short")
	assert.Error(t, err)
}
