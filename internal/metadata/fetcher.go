package metadata

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/solana"
)

// Fetcher resolves token metadata for a mint.
// A nil result with a nil error means the mint has no metadata account.
type Fetcher interface {
	Fetch(ctx context.Context, mint string) (*domain.PoolMetadata, error)
}

// ErrMalformedMetadata is returned when a metadata account cannot be parsed.
var ErrMalformedMetadata = errors.New("malformed metadata account")

// metadataV1Key is the account discriminator of Metaplex MetadataV1.
const metadataV1Key = 4

// Borsh string caps. On-chain fields are zero-padded to 32, 10 and 200 bytes.
const (
	maxNameLen   = 100
	maxSymbolLen = 20
	maxURILen    = 256
)

// RPCFetcher reads the Metaplex metadata account of a mint over JSON-RPC.
type RPCFetcher struct {
	rpc solana.RPCClient
}

// NewRPCFetcher creates a fetcher using rpc.
func NewRPCFetcher(rpc solana.RPCClient) *RPCFetcher {
	return &RPCFetcher{rpc: rpc}
}

var _ Fetcher = (*RPCFetcher)(nil)

// Fetch derives the metadata PDA of mint and parses its account data.
func (f *RPCFetcher) Fetch(ctx context.Context, mint string) (*domain.PoolMetadata, error) {
	addr, err := solana.MetadataAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("derive metadata address: %w", err)
	}

	info, err := f.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("get metadata account: %w", err)
	}
	if info == nil {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("decode metadata account: %w", err)
	}
	return ParseMetaplex(data)
}

// ParseMetaplex parses name, symbol and uri from MetadataV1 account data.
//
// Layout:
//   - key: u8 (4 for MetadataV1)
//   - updateAuthority: Pubkey (32 bytes)
//   - mint: Pubkey (32 bytes)
//   - name, symbol, uri: borsh strings (u32 length + bytes)
//
// Trailing NUL padding is stripped from each string.
func ParseMetaplex(data []byte) (*domain.PoolMetadata, error) {
	if len(data) < 65 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedMetadata, len(data))
	}
	if data[0] != metadataV1Key {
		return nil, fmt.Errorf("%w: key %d", ErrMalformedMetadata, data[0])
	}

	r := borshReader{buf: data, off: 65}
	name, err := r.string(maxNameLen)
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	symbol, err := r.string(maxSymbolLen)
	if err != nil {
		return nil, fmt.Errorf("symbol: %w", err)
	}
	uri, err := r.string(maxURILen)
	if err != nil {
		return nil, fmt.Errorf("uri: %w", err)
	}

	return &domain.PoolMetadata{Name: name, Symbol: symbol, URI: uri}, nil
}

type borshReader struct {
	buf []byte
	off int
}

func (r *borshReader) string(limit int) (string, error) {
	if r.off+4 > len(r.buf) {
		return "", fmt.Errorf("%w: length prefix out of range", ErrMalformedMetadata)
	}
	n := int(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	if n > limit || r.off+n > len(r.buf) {
		return "", fmt.Errorf("%w: string length %d", ErrMalformedMetadata, n)
	}
	s := strings.TrimRight(string(r.buf[r.off:r.off+n]), "\x00")
	r.off += n
	return s, nil
}
