// Package protocol implements the Viciniti advertisement payload: the
// "<eventId>:<role>" string every instance broadcasts, and the rule that
// decides whether a discovered peer completes a proximity match.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrMalformedPayload is returned by Decode for anything that is not a
// well-formed "<eventId>:<role>" payload. Callers treat it as noise.
var ErrMalformedPayload = errors.New("protocol: malformed payload")

// Role is the local or advertised identity within an event.
type Role int

const (
	RoleParticipant Role = 0
	RoleOrganizer   Role = 1
)

func (r Role) String() string {
	switch r {
	case RoleParticipant:
		return "participant"
	case RoleOrganizer:
		return "organizer"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleParticipant || r == RoleOrganizer
}

// Opposite returns the role a peer must advertise to match r.
func (r Role) Opposite() Role {
	if r == RoleOrganizer {
		return RoleParticipant
	}
	return RoleOrganizer
}

// ParseRole parses the config spelling of a role ("participant" or
// "organizer", case-insensitive).
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "participant":
		return RoleParticipant, nil
	case "organizer":
		return RoleOrganizer, nil
	default:
		return 0, fmt.Errorf("protocol: unknown role %q", s)
	}
}

// Payload is the decoded content of an advertisement.
type Payload struct {
	EventID string
	Role    Role
}

// Encode returns the UTF-8 wire form "<eventId>:<roleInteger>".
func (p Payload) Encode() ([]byte, error) {
	if p.EventID == "" {
		return nil, fmt.Errorf("protocol: encode: empty event id")
	}
	if !p.Role.Valid() {
		return nil, fmt.Errorf("protocol: encode: invalid role %d", int(p.Role))
	}
	return []byte(p.EventID + ":" + strconv.Itoa(int(p.Role))), nil
}

// Decode parses a payload. The role is the text after the last ':' so event
// ids may themselves contain colons.
func Decode(data []byte) (Payload, error) {
	if len(data) == 0 || !utf8.Valid(data) {
		return Payload{}, ErrMalformedPayload
	}
	s := string(data)
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return Payload{}, ErrMalformedPayload
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return Payload{}, ErrMalformedPayload
	}
	role := Role(n)
	if !role.Valid() {
		return Payload{}, ErrMalformedPayload
	}
	return Payload{EventID: s[:i], Role: role}, nil
}

// Matches reports whether remote completes a match for local: same event,
// different role.
func Matches(local, remote Payload) bool {
	return local.EventID != "" && remote.EventID == local.EventID && remote.Role != local.Role
}

// Mirror returns the payload a matching counterpart of data would
// advertise: same event, opposite role.
func Mirror(data []byte) ([]byte, error) {
	p, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Payload{EventID: p.EventID, Role: p.Role.Opposite()}.Encode()
}

// NewEventID returns a random event identifier for ad-hoc sessions.
func NewEventID() string {
	return uuid.NewString()
}
