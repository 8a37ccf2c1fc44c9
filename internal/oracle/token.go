package oracle

import (
	"crypto/rand"
	"math/big"
	"sync"
)

// TokenAlphabet omits characters that are easy to confuse (I, O, 0, 1).
const TokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const DefaultTokenLength = 8

// TokenSource issues correlation tokens that are unique for the lifetime of the
// source. One source is shared by every session of a run.
type TokenSource struct {
	length int

	mu     sync.Mutex
	issued map[string]struct{}
}

// NewTokenSource creates a source producing tokens of the given length.
func NewTokenSource(length int) *TokenSource {
	if length <= 0 {
		length = DefaultTokenLength
	}
	return &TokenSource{length: length, issued: make(map[string]struct{})}
}

// Next returns a fresh token. A collision with an earlier token is redrawn.
func (s *TokenSource) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		tok := randomToken(s.length)
		if _, dup := s.issued[tok]; dup {
			continue
		}
		s.issued[tok] = struct{}{}
		return tok
	}
}

// Issued reports how many tokens the source has handed out.
func (s *TokenSource) Issued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issued)
}

func randomToken(n int) string {
	max := big.NewInt(int64(len(TokenAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms.
			panic(err)
		}
		b[i] = TokenAlphabet[idx.Int64()]
	}
	return string(b)
}
