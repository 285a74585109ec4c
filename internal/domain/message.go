package domain

import (
	"strconv"
	"time"
)

// Message is a stored direct message. Content is the effective content that
// was persisted and delivered, which differs from the sender's input when the
// recipient was busy.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
}

// PairKey returns the conversation key for an unordered pair of users.
// Each id is length-prefixed, so ids containing ':' cannot collide and no
// key followed by ':' is a prefix of another.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strconv.Itoa(len(a)) + ":" + a + ":" + strconv.Itoa(len(b)) + ":" + b
}
