// Package roomid generates and validates room identifiers.
//
// A room id is a mode prefix followed by a 5-character upper-case base36
// token, e.g. "F-K3X9P" or "C-00A7Z". The prefix is load-bearing: clients use
// it to reject joining a room whose mode does not match their selection.
package roomid

import (
	"fmt"
	"strings"
)

const (
	// PrefixFree marks rooms with no entry fee.
	PrefixFree = "F-"
	// PrefixStaked marks coin-staked rooms.
	PrefixStaked = "C-"

	alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	tokenLen = 5
)

// RandSource is the slice of *rand.Rand we need, injectable for tests.
type RandSource interface {
	IntN(n int) int
}

// New derives a fresh room id for the given mode.
func New(staked bool, r RandSource) string {
	prefix := PrefixFree
	if staked {
		prefix = PrefixStaked
	}

	var b strings.Builder
	b.Grow(len(prefix) + tokenLen)
	b.WriteString(prefix)
	for i := 0; i < tokenLen; i++ {
		b.WriteByte(alphabet[r.IntN(len(alphabet))])
	}
	return b.String()
}

// IsStaked reports whether the id carries the coin-staked prefix.
func IsStaked(id string) bool {
	return strings.HasPrefix(id, PrefixStaked)
}

// Validate checks that an id has a known prefix and a well-formed token.
func Validate(id string) error {
	var token string
	switch {
	case strings.HasPrefix(id, PrefixFree):
		token = id[len(PrefixFree):]
	case strings.HasPrefix(id, PrefixStaked):
		token = id[len(PrefixStaked):]
	default:
		return fmt.Errorf("room id %q has no mode prefix", id)
	}

	if len(token) != tokenLen {
		return fmt.Errorf("room id token must be %d characters, got %d", tokenLen, len(token))
	}
	for i := 0; i < len(token); i++ {
		if !strings.ContainsRune(alphabet, rune(token[i])) {
			return fmt.Errorf("invalid character %c at position %d", token[i], i)
		}
	}
	return nil
}
