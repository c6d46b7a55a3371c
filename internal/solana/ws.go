package solana

import "context"

// Commitment levels used for stream subscriptions and account reads.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
)

// TransactionFilter selects the transactions delivered by a subscription.
type TransactionFilter struct {
	// AccountInclude matches transactions whose account list includes any of these keys.
	AccountInclude []string
	Vote           bool
	Failed         bool
	Commitment     string
}

// TransactionStream is a single bidirectional subscription channel.
type TransactionStream interface {
	// Subscribe writes the subscription request.
	Subscribe(ctx context.Context, filter TransactionFilter) error

	// Ping writes a keepalive frame.
	Ping() error

	// Recv blocks until the next transaction record arrives.
	// Any error, including io.EOF, ends the stream.
	Recv() (*TransactionEnvelope, error)

	// Close forcibly tears down the stream. Pending Recv calls return an error.
	Close() error
}

// StreamDialer opens upstream transaction streams.
type StreamDialer interface {
	Dial(ctx context.Context) (TransactionStream, error)
}
