package solana

import "context"

// RPCClient defines the Solana RPC HTTP calls used for enrichment.
type RPCClient interface {
	// GetAccountInfo retrieves account info by public key. Returns nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)
}
