package workflow

import (
	"fmt"
	"math/rand/v2"
)

const DefaultMessageTemplate = "Automated message #%d [%s]"

// Message is one outbound chat line. Token is the only thing joining the UI send
// to the traffic that proves it happened.
type Message struct {
	Index int
	Token string
	Text  string
}

// NewMessage renders template with the 1-based index and the token.
func NewMessage(template string, index int, token string) Message {
	if template == "" {
		template = DefaultMessageTemplate
	}
	return Message{Index: index, Token: token, Text: fmt.Sprintf(template, index, token)}
}

// MessageCount draws the number of messages for one session from [lo, hi].
func MessageCount(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1)
}
