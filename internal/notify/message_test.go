package notify

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	m, err := Parse([]byte(`{"event":"stage","extra":{"desk_id":"d1"}}`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if m.Event != EventStage {
		t.Errorf("Event = %q, want %q", m.Event, EventStage)
	}
	f, err := m.Fields()
	if err != nil {
		t.Fatalf("Fields() error: %v", err)
	}
	if f.DeskID != "d1" {
		t.Errorf("DeskID = %q, want d1", f.DeskID)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"garbage", "not json"},
		{"array", `[{"event":"stage"}]`},
		{"string", `"stage"`},
		{"truncated", `{"event":"stage"`},
		{"event not string", `{"event":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.raw)); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.raw)
			}
		})
	}
}

func TestParseMissingEvent(t *testing.T) {
	_, err := Parse([]byte(`{"extra":{}}`))
	if !errors.Is(err, ErrNoEvent) {
		t.Errorf("err = %v, want ErrNoEvent", err)
	}
}

func TestFieldsIDListShapes(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		want  IDList
	}{
		{"array", `{"user_id":["u1","u2"]}`, IDList{"u1", "u2"}},
		{"single string", `{"user_id":"u1"}`, IDList{"u1"}},
		{"null", `{"user_id":null}`, nil},
		{"missing", `{}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Message{Event: EventUserDisabled, Extra: []byte(tt.extra)}
			f, err := m.Fields()
			if err != nil {
				t.Fatalf("Fields() error: %v", err)
			}
			if diff := cmp.Diff(tt.want, f.UserID); diff != "" {
				t.Errorf("UserID (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFieldsBadShape(t *testing.T) {
	m := Message{Event: EventDesk, Extra: []byte(`{"user_ids":{"u1":true}}`)}
	if _, err := m.Fields(); err == nil {
		t.Error("Fields() accepted an object as an id list")
	}
}

func TestFieldsNoExtra(t *testing.T) {
	f, err := Message{Event: EventStage}.Fields()
	if err != nil {
		t.Fatalf("Fields() error: %v", err)
	}
	if diff := cmp.Diff(Fields{}, f); diff != "" {
		t.Errorf("Fields (-want +got):\n%s", diff)
	}
}

func TestContainsExactMatch(t *testing.T) {
	l := IDList{"u10", "u2"}
	if l.Contains("u1") {
		t.Error("Contains(u1) matched a prefix")
	}
	if !l.Contains("u2") {
		t.Error("Contains(u2) = false")
	}
	if (IDList{""}).Contains("") {
		t.Error("empty id matched")
	}
}

func TestNewRoundTrip(t *testing.T) {
	m, err := New(EventDesk, Fields{DeskID: "d1", UserIDs: IDList{"u1"}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	f, err := m.Fields()
	if err != nil {
		t.Fatalf("Fields() error: %v", err)
	}
	want := Fields{DeskID: "d1", UserIDs: IDList{"u1"}}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("Fields (-want +got):\n%s", diff)
	}
}
