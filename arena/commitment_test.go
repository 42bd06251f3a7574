package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommitVerifyRoundTrip(t *testing.T) {
	salt, err := NewSalt()
	assert.NoError(t, err)

	digest := CommitMove(MoveCooperate, salt)
	assert.True(t, VerifyReveal(digest, MoveCooperate, salt))

	// Any other move must fail against the same digest.
	assert.False(t, VerifyReveal(digest, MoveDefect, salt))

	// A different salt must fail even with the right move.
	otherSalt, err := NewSalt()
	assert.NoError(t, err)
	assert.False(t, VerifyReveal(digest, MoveCooperate, otherSalt))
}

func TestCommitSaltHidesMove(t *testing.T) {
	// The same move with fresh salts must produce distinct digests, so
	// commitment equality across rounds leaks nothing.
	s1, err := NewSalt()
	assert.NoError(t, err)
	s2, err := NewSalt()
	assert.NoError(t, err)

	d1 := CommitMove(MoveDefect, s1)
	d2 := CommitMove(MoveDefect, s2)
	assert.NotEqual(t, d1, d2)
}

func TestCommitDeterministic(t *testing.T) {
	var salt [SaltSize]byte
	copy(salt[:], []byte("fixed salt for deterministic test"))

	d1 := CommitMove(MoveCooperate, salt)
	d2 := CommitMove(MoveCooperate, salt)
	assert.Equal(t, d1, d2)
}
