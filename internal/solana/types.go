package solana

import "github.com/mr-tron/base58"

// CompiledInstruction is a single program invocation inside a transaction.
// ProgramIDIndex and Accounts index into the envelope's AccountKeys.
type CompiledInstruction struct {
	ProgramIDIndex int
	Accounts       []int
	Data           []byte
}

// TransactionEnvelope is one transaction record received from the upstream stream.
type TransactionEnvelope struct {
	Signature []byte
	Slot      uint64
	// AccountKeys holds static message keys followed by loaded writable
	// and loaded readonly addresses, all base58.
	AccountKeys  []string
	Instructions []CompiledInstruction
	// InnerInstructions maps a top-level instruction index to the
	// instructions it invoked.
	InnerInstructions map[int][]CompiledInstruction
}

// SignatureString returns the base58 form of the transaction signature.
func (t *TransactionEnvelope) SignatureString() string {
	return base58.Encode(t.Signature)
}

// AccountKey resolves an index into the account key table.
func (t *TransactionEnvelope) AccountKey(index int) (string, bool) {
	if index < 0 || index >= len(t.AccountKeys) {
		return "", false
	}
	return t.AccountKeys[index], true
}

// ProgramID resolves the program invoked by ix.
func (t *TransactionEnvelope) ProgramID(ix CompiledInstruction) (string, bool) {
	return t.AccountKey(ix.ProgramIDIndex)
}

// InstructionAccount resolves the n-th account reference of ix.
func (t *TransactionEnvelope) InstructionAccount(ix CompiledInstruction, n int) (string, bool) {
	if n < 0 || n >= len(ix.Accounts) {
		return "", false
	}
	return t.AccountKey(ix.Accounts[n])
}
