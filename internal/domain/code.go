package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// codeAlphabet leaves out visually ambiguous glyphs (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// MeetingCodeLen is the length of generated meeting codes.
const MeetingCodeLen = 6

// NewMeetingCode returns a fresh human-shareable meeting code.
func NewMeetingCode() string {
	var b strings.Builder
	b.Grow(MeetingCodeLen)
	for i := 0; i < MeetingCodeLen; i++ {
		b.WriteByte(codeAlphabet[randomIndex(len(codeAlphabet))])
	}
	return b.String()
}

// ValidMeetingCode reports whether code looks like a generated meeting code.
// Room joins do not require this; it only guards the meetings API.
func ValidMeetingCode(code string) bool {
	if len(code) != MeetingCodeLen {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}

func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		// crypto/rand failing means the platform is broken.
		panic(err)
	}
	return int(n.Int64())
}
