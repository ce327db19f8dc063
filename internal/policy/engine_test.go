package policy

import (
	"testing"

	"github.com/deskpulse/deskpulse/internal/bus"
	"github.com/deskpulse/deskpulse/internal/desks"
	"github.com/deskpulse/deskpulse/internal/notify"
	"github.com/deskpulse/deskpulse/internal/session"
	"github.com/deskpulse/deskpulse/internal/surface"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	bus     *bus.Bus
	session *session.Context
	desks   *desks.Registry
	surface *surface.Surface
	engine  *Engine
}

// newFixture signs in u1 with role r1, on desks d1 and d2, active d1.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bus.New()
	s := session.New(b, nil)
	if err := s.Login("u1", "r1"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	reg := desks.NewRegistry(nil, s, b, nil)
	reg.Replace([]desks.Desk{{ID: "d1"}, {ID: "d2"}})
	if err := reg.SetActive("d1"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	surf := surface.New()
	return &fixture{
		bus:     b,
		session: s,
		desks:   reg,
		surface: surf,
		engine:  NewEngine(s, reg, surf, nil),
	}
}

func message(t *testing.T, event string, extra any) notify.Message {
	t.Helper()
	m, err := notify.New(event, extra)
	if err != nil {
		t.Fatalf("notify.New: %v", err)
	}
	return m
}

func TestClassify(t *testing.T) {
	tests := []struct {
		event string
		want  Category
	}{
		{"user_disabled", User},
		{"user_inactivated", User},
		{"user_role_changed", User},
		{"user_type_changed", User},
		{"user_privileges_revoked", User},
		{"role_privileges_revoked", Role},
		{"desk", Desk},
		{"desk_membership_revoked", Desk},
		{"stage_visibility_updated", StageVisibility},
		{"stage", Stage},
		{"item:lock", Unclassified},
		{"", Unclassified},
	}
	for _, tt := range tests {
		if got := Classify(tt.event); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.event, got, tt.want)
		}
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		event string
		extra any
		view  surface.View
		want  Result
	}{
		{
			name:  "user disabled for session user",
			event: "user_disabled",
			extra: map[string]any{"user_id": []string{"u1", "u9"}},
			want:  Result{Reload: true, Reason: "User is disabled"},
		},
		{
			name:  "user disabled for someone else",
			event: "user_disabled",
			extra: map[string]any{"user_id": []string{"u9"}},
		},
		{
			name:  "user id as single string",
			event: "user_role_changed",
			extra: map[string]any{"user_id": "u1"},
			want:  Result{Reload: true, Reason: "User role is changed"},
		},
		{
			name:  "user id prefix does not match",
			event: "user_inactivated",
			extra: map[string]any{"user_id": "u10"},
		},
		{
			name:  "role revoked for session role",
			event: "role_privileges_revoked",
			extra: map[string]any{"role_id": []string{"r1"}},
			want:  Result{Reload: true, Reason: "Role privileges are revoked"},
		},
		{
			name:  "role revoked for other role",
			event: "role_privileges_revoked",
			extra: map[string]any{"role_id": "r2"},
		},
		{
			name:  "membership revoked on member desk",
			event: "desk_membership_revoked",
			extra: map[string]any{"desk_id": "d1", "user_ids": []string{"u1"}},
			want:  Result{Reload: true, Reason: "User removed from desk"},
		},
		{
			name:  "desk update without session user",
			event: "desk",
			extra: map[string]any{"desk_id": "d1", "user_ids": []string{"u2"}},
		},
		{
			name:  "desk update on foreign desk",
			event: "desk",
			extra: map[string]any{"desk_id": "d7", "user_ids": []string{"u1"}},
		},
		{
			name:  "desk update includes session user",
			event: "desk",
			extra: map[string]any{"desk_id": "d2", "user_ids": "u1"},
			want:  Result{Reload: true, Reason: "Desk is deleted/updated"},
		},
		{
			name:  "stage on active desk",
			event: "stage",
			extra: map[string]any{"desk_id": "d1"},
			want:  Result{Reload: true, Reason: "Stage is created/updated/deleted"},
		},
		{
			name:  "stage on member desk that is not active",
			event: "stage",
			extra: map[string]any{"desk_id": "d2"},
		},
		{
			name:  "stage visibility on foreign desk in search",
			event: "stage_visibility_updated",
			extra: map[string]any{"desk_id": "d7"},
			view:  surface.ViewSearch,
			want:  Result{Reload: true, Reason: "Stage visibility change"},
		},
		{
			name:  "stage visibility on foreign desk in authoring",
			event: "stage_visibility_updated",
			extra: map[string]any{"desk_id": "d7"},
			view:  surface.ViewAuthoring,
			want:  Result{Reload: true, Reason: "Stage visibility change"},
		},
		{
			name:  "stage visibility on foreign desk in desk view",
			event: "stage_visibility_updated",
			extra: map[string]any{"desk_id": "d7"},
			view:  surface.ViewDesk,
		},
		{
			name:  "stage visibility on member desk",
			event: "stage_visibility_updated",
			extra: map[string]any{"desk_id": "d1"},
			view:  surface.ViewSearch,
		},
		{
			name:  "unclassified event",
			event: "item:lock",
			extra: map[string]any{"user_id": "u1"},
		},
		{
			name:  "missing extra",
			event: "user_disabled",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.view != "" {
				f.surface.SetView(tt.view)
			}
			got := f.engine.Evaluate(message(t, tt.event, tt.extra))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Evaluate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	f := newFixture(t)
	msgs := []notify.Message{
		message(t, "user_disabled", map[string]any{"user_id": "u1"}),
		message(t, "stage", map[string]any{"desk_id": "d2"}),
		message(t, "desk", map[string]any{"desk_id": "d1", "user_ids": "u1"}),
	}
	for _, m := range msgs {
		first := f.engine.Evaluate(m)
		for i := 0; i < 3; i++ {
			if got := f.engine.Evaluate(m); got != first {
				t.Errorf("%s: evaluation %d = %+v, first = %+v", m.Event, i, got, first)
			}
		}
	}
}

func TestEvaluateReadsCurrentContext(t *testing.T) {
	f := newFixture(t)
	m := message(t, "stage", map[string]any{"desk_id": "d2"})
	if got := f.engine.Evaluate(m); got.Reload {
		t.Fatalf("Evaluate() before switching desk = %+v, want no reload", got)
	}
	if err := f.desks.SetActive("d2"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if got := f.engine.Evaluate(m); !got.Reload {
		t.Errorf("Evaluate() after switching desk = %+v, want reload", got)
	}
}

func TestEvaluateBadExtraLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t)
	e := NewEngine(f.session, f.desks, f.surface, zap.New(core))

	m, err := notify.Parse([]byte(`{"event":"user_disabled","extra":{"user_id":42}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := e.Evaluate(m); got.Reload {
		t.Errorf("Evaluate() = %+v, want no reload", got)
	}
	if n := logs.FilterMessage("ignoring notification with undecodable extra").Len(); n != 1 {
		t.Errorf("warning logged %d times, want 1", n)
	}
}

func TestCategoryString(t *testing.T) {
	if got := StageVisibility.String(); got != "stage-visibility" {
		t.Errorf("String() = %q", got)
	}
	if got := Category(99).String(); got != "unclassified" {
		t.Errorf("String() = %q", got)
	}
}

func TestCategoryReadsDesks(t *testing.T) {
	for c, want := range map[Category]bool{
		Unclassified:    false,
		User:            false,
		Role:            false,
		Desk:            true,
		StageVisibility: true,
		Stage:           true,
	} {
		if got := c.ReadsDesks(); got != want {
			t.Errorf("%s.ReadsDesks() = %v, want %v", c, got, want)
		}
	}
}
