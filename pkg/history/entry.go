// Package history holds the conversation log consumed by the turn-taking
// director and the dialogue loop.
//
// Entries are typed records with one canonical field set. Older history
// files used several spellings for the same field; those are translated
// once, in FromLegacy, when a file is loaded.
package history

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the kind of participant that authored an entry.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

var (
	// ErrMissingSpeaker is returned when a legacy record names no speaker.
	ErrMissingSpeaker = errors.New("history: missing speaker")

	// ErrMissingText is returned when a legacy record carries no message.
	ErrMissingText = errors.New("history: missing text")
)

// Entry is one line of the conversation.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Speaker   string    `json:"speaker"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEntry creates an entry stamped with a fresh ID and the current time.
func NewEntry(speaker string, role Role, text string) Entry {
	return Entry{
		ID:        uuid.New(),
		Speaker:   speaker,
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// IsHuman reports whether the human participant authored the entry.
func (e Entry) IsHuman() bool {
	return e.Role == RoleHuman
}

// String formats the entry as a transcript line.
func (e Entry) String() string {
	return fmt.Sprintf("[%s]: %s", e.Speaker, e.Text)
}

// Legacy field spellings, in lookup order.
var (
	speakerKeys   = []string{"speaker", "name", "speaker_id", "from"}
	roleKeys      = []string{"role", "type"}
	textKeys      = []string{"text", "message", "content"}
	timestampKeys = []string{"timestamp", "time", "ts"}
)

// FromLegacy converts a loosely keyed record into an Entry.
//
// Missing roles are inferred: a speaker called "user" or "human" is the
// human, everyone else an assistant. Timestamps may be RFC 3339 strings or
// Unix seconds.
func FromLegacy(record map[string]any) (Entry, error) {
	var e Entry

	e.Speaker = lookupString(record, speakerKeys)
	if e.Speaker == "" {
		return Entry{}, ErrMissingSpeaker
	}

	text, ok := lookup(record, textKeys)
	if !ok {
		return Entry{}, ErrMissingText
	}
	e.Text, _ = text.(string)

	e.Role = parseRole(lookupString(record, roleKeys), e.Speaker)

	if raw, ok := lookup(record, timestampKeys); ok {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return Entry{}, fmt.Errorf("history: timestamp: %w", err)
		}
		e.Timestamp = ts
	}

	if id, err := uuid.Parse(lookupString(record, []string{"id"})); err == nil {
		e.ID = id
	} else {
		e.ID = uuid.New()
	}

	return e, nil
}

func parseRole(raw, speaker string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "human", "user":
		return RoleHuman
	case "assistant", "ai", "bot", "model":
		return RoleAssistant
	case "system":
		return RoleSystem
	}
	switch strings.ToLower(speaker) {
	case "human", "user":
		return RoleHuman
	}
	return RoleAssistant
}

func parseTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, v)
	case float64:
		sec := int64(v)
		nsec := int64((v - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", raw)
	}
}

func lookup(record map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := record[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func lookupString(record map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := record[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
