package arena

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/blake256"
)

// SaltSize is the size of the agent-chosen blinding salt. The salt is what
// hides the move: without it a two-move game would let an opponent recover
// the move from the digest by trying both values, and equal commitments
// across rounds would leak repeated moves.
const SaltSize = 32

// commitTag domain-separates move commitments from every other blake256
// use in the engine.
var commitTag = []byte("ArenaForge/MoveCommit/v1")

// CommitMove computes the binding, hiding commitment to a move+salt pair.
func CommitMove(move Move, salt [SaltSize]byte) chainhash.Hash {
	h := blake256.New()
	h.Write(commitTag)
	h.Write([]byte{byte(move)})
	h.Write(salt[:])
	var digest chainhash.Hash
	copy(digest[:], h.Sum(nil))
	return digest
}

// VerifyReveal reports whether (move, salt) is exactly the pair that
// produced digest. A false result is not an error condition: the protocol
// treats a failed verification identically to "did not reveal".
func VerifyReveal(digest chainhash.Hash, move Move, salt [SaltSize]byte) bool {
	want := CommitMove(move, salt)
	return subtle.ConstantTimeCompare(digest[:], want[:]) == 1
}

// NewSalt draws a fresh high-entropy salt.
func NewSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return salt, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}
