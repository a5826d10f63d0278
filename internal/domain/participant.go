// Package domain contains entities without logic, just meta-data and validation.
package domain

import "strings"

const (
	// MaxNameLen bounds display names in runes, not bytes.
	MaxNameLen = 40

	// DefaultName is used when a client supplies no usable display name.
	DefaultName = "Guest"
)

// ConnID is the opaque, server-assigned identifier of a transport session.
// It is the addressing unit for signaling and must only ever be compared
// as a string.
type ConnID string

// Participant is the public identity of one room member.
type Participant struct {
	ID   ConnID `json:"id"`
	Name string `json:"name"`
}

// CleanName trims the raw display name, caps it at MaxNameLen runes and
// falls back to DefaultName when nothing usable remains.
func CleanName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return DefaultName
	}
	if r := []rune(name); len(r) > MaxNameLen {
		name = string(r[:MaxNameLen])
	}
	return name
}
