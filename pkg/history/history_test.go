package history

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFromLegacy(t *testing.T) {
	tests := []struct {
		name        string
		record      map[string]any
		wantSpeaker string
		wantRole    Role
		wantText    string
	}{
		{
			name:        "canonical",
			record:      map[string]any{"speaker": "ava", "role": "assistant", "text": "Hi."},
			wantSpeaker: "ava",
			wantRole:    RoleAssistant,
			wantText:    "Hi.",
		},
		{
			name:        "name and message",
			record:      map[string]any{"name": "human", "message": "Hello there."},
			wantSpeaker: "human",
			wantRole:    RoleHuman,
			wantText:    "Hello there.",
		},
		{
			name:        "speaker_id and content with user type",
			record:      map[string]any{"speaker_id": "sam", "type": "user", "content": "Yes."},
			wantSpeaker: "sam",
			wantRole:    RoleHuman,
			wantText:    "Yes.",
		},
		{
			name:        "from with system role",
			record:      map[string]any{"from": "narrator", "role": "system", "text": "Scene."},
			wantSpeaker: "narrator",
			wantRole:    RoleSystem,
			wantText:    "Scene.",
		},
		{
			name:        "empty text is allowed",
			record:      map[string]any{"speaker": "bo", "text": ""},
			wantSpeaker: "bo",
			wantRole:    RoleAssistant,
			wantText:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := FromLegacy(tt.record)
			if err != nil {
				t.Fatalf("FromLegacy() error = %v", err)
			}
			if e.Speaker != tt.wantSpeaker || e.Role != tt.wantRole || e.Text != tt.wantText {
				t.Errorf("got %+v", e)
			}
			if e.ID == uuid.Nil {
				t.Error("expected an ID to be assigned")
			}
		})
	}
}

func TestFromLegacy_Errors(t *testing.T) {
	if _, err := FromLegacy(map[string]any{"text": "orphan"}); !errors.Is(err, ErrMissingSpeaker) {
		t.Errorf("missing speaker: err = %v", err)
	}
	if _, err := FromLegacy(map[string]any{"speaker": "ava"}); !errors.Is(err, ErrMissingText) {
		t.Errorf("missing text: err = %v", err)
	}
	if _, err := FromLegacy(map[string]any{"speaker": "ava", "text": "x", "ts": "yesterday"}); err == nil {
		t.Error("expected timestamp error")
	}
}

func TestFromLegacy_Timestamps(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	e, err := FromLegacy(map[string]any{"speaker": "ava", "text": "x", "time": "2024-05-01T12:00:00Z"})
	if err != nil {
		t.Fatal(err)
	}
	if !e.Timestamp.Equal(want) {
		t.Errorf("string timestamp = %v, want %v", e.Timestamp, want)
	}

	e, err = FromLegacy(map[string]any{"speaker": "ava", "text": "x", "ts": float64(want.Unix())})
	if err != nil {
		t.Fatal(err)
	}
	if !e.Timestamp.Equal(want) {
		t.Errorf("unix timestamp = %v, want %v", e.Timestamp, want)
	}
}

func TestFromLegacy_KeepsID(t *testing.T) {
	id := uuid.New()
	e, err := FromLegacy(map[string]any{"id": id.String(), "speaker": "ava", "text": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != id {
		t.Errorf("ID = %v, want %v", e.ID, id)
	}
}

func TestStore_Recent(t *testing.T) {
	s := New()
	for _, text := range []string{"one", "two", "three"} {
		if _, err := s.Add("ava", RoleAssistant, text); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		n    int
		want []string
	}{
		{0, nil},
		{2, []string{"two", "three"}},
		{10, []string{"one", "two", "three"}},
	}
	for _, tt := range tests {
		got := s.Recent(tt.n)
		if len(got) != len(tt.want) {
			t.Errorf("Recent(%d) len = %d, want %d", tt.n, len(got), len(tt.want))
			continue
		}
		for i := range got {
			if got[i].Text != tt.want[i] {
				t.Errorf("Recent(%d)[%d] = %q, want %q", tt.n, i, got[i].Text, tt.want[i])
			}
		}
	}
}

func TestStore_AppendFillsIDAndTime(t *testing.T) {
	s := New()
	e, err := s.Append(Entry{Speaker: "human", Role: RoleHuman, Text: "hey"})
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == uuid.Nil || e.Timestamp.IsZero() {
		t.Errorf("expected ID and timestamp, got %+v", e)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")

	s, err := NewWithFile(path)
	if err != nil {
		t.Fatalf("NewWithFile() error = %v", err)
	}
	first, _ := s.Add("human", RoleHuman, "Hello.")
	s.Add("ava", RoleAssistant, "Hi!")

	reloaded, err := NewWithFile(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	all := reloaded.All()
	if len(all) != 2 {
		t.Fatalf("reloaded %d entries, want 2", len(all))
	}
	if all[0].ID != first.ID || all[0].Text != "Hello." || !all[0].IsHuman() {
		t.Errorf("first entry = %+v", all[0])
	}

	if err := reloaded.Reset(); err != nil {
		t.Fatal(err)
	}
	again, _ := NewWithFile(path)
	if again.Len() != 0 {
		t.Errorf("after reset Len() = %d", again.Len())
	}
}

func TestStore_LoadsLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	legacy := `[
  {"name": "user", "message": "Are you there?"},
  {"speaker_id": "ava", "type": "assistant", "content": "Always."},
  {"content": "no speaker"}
]`
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewWithFile(path)
	if err != nil {
		t.Fatal(err)
	}
	all := s.All()
	if len(all) != 2 {
		t.Fatalf("loaded %d entries, want 2", len(all))
	}
	if !all[0].IsHuman() || all[1].Speaker != "ava" {
		t.Errorf("entries = %+v", all)
	}
}

func TestStore_MissingFile(t *testing.T) {
	s, err := NewWithFile(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d", s.Len())
	}
}

func TestEntry_String(t *testing.T) {
	e := NewEntry("Ava", RoleAssistant, "Hello.")
	if got := e.String(); got != "[Ava]: Hello." {
		t.Errorf("String() = %q", got)
	}
}
