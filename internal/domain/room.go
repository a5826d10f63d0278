package domain

import (
	"errors"
	"strings"
)

// ErrInvalidRoom is returned on join when the room code is empty after
// normalization. It is reported in the join ack, never fatal to the
// connection.
var ErrInvalidRoom = errors.New("missing room code")

// NormalizeCode canonicalizes a room code: trimmed, upper-cased.
// Room identity is the normalized code.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
