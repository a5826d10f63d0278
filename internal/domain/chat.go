package domain

// ChatMessage is a single ephemeral chat broadcast. It is stamped by the
// server (id, timestamp, sender identity) and never persisted.
type ChatMessage struct {
	ID   string      `json:"id"`
	TS   int64       `json:"ts"` // unix milliseconds
	From Participant `json:"from"`
	Text string      `json:"text"`
}
