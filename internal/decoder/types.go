// internal/decoder/types.go
package decoder

import (
	"github.com/gagliardetto/solana-go"
)

// Instruction is one resolved instruction of a raw transaction: program id,
// opaque data bytes, and the ordered accounts it references.
type Instruction struct {
	ProgramID solana.PublicKey
	Accounts  []solana.PublicKey
	Data      []byte
}

// RawTransaction is the ingestion pipeline's output contract: everything
// the decoder needs, already detached from RPC response types.
type RawTransaction struct {
	Signature string
	// Instructions are the transaction's top-level instructions.
	Instructions []Instruction
	// Inner holds CPI instructions keyed by top-level instruction index.
	Inner map[int][]Instruction
	// AccountKeys and PreBalances are aligned; they feed the fallback
	// zero-balance pool discovery when instruction data is unavailable.
	AccountKeys []solana.PublicKey
	PreBalances []uint64
	// Failed transactions are discarded before decoding.
	Failed bool
}
