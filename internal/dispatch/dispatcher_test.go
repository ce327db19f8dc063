package dispatch

import (
	"testing"

	"github.com/deskpulse/deskpulse/internal/bus"
	"github.com/deskpulse/deskpulse/internal/policy"
	"github.com/deskpulse/deskpulse/internal/surface"
	"github.com/google/go-cmp/cmp"
)

type recorded struct {
	reinits []string
	events  []bus.Event
}

func setup(t *testing.T) (*Dispatcher, *surface.Surface, *recorded) {
	t.Helper()
	b := bus.New()
	rec := &recorded{}
	b.SubscribeAll(func(ev bus.Event) { rec.events = append(rec.events, ev) })
	surf := surface.New()
	d := New(surf, ReinitializerFunc(func(reason string) {
		rec.reinits = append(rec.reinits, reason)
	}), b, nil)
	return d, surf, rec
}

func TestHandleNoReload(t *testing.T) {
	d, _, rec := setup(t)
	d.Handle(policy.Result{})
	if len(rec.reinits) != 0 || len(rec.events) != 0 {
		t.Errorf("no-reload result caused reinits=%v events=%v", rec.reinits, rec.events)
	}
	if got := d.Stats(); got != (Stats{Ignored: 1}) {
		t.Errorf("Stats() = %+v", got)
	}
}

func TestHandleReinitializes(t *testing.T) {
	d, _, rec := setup(t)
	d.Handle(policy.Result{Reload: true, Reason: "User is disabled"})

	if diff := cmp.Diff([]string{"User is disabled"}, rec.reinits); diff != "" {
		t.Errorf("reinits mismatch (-want +got):\n%s", diff)
	}
	want := []bus.Event{{Name: bus.Reinitialized, Payload: "User is disabled"}}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if got := d.Stats(); got != (Stats{Reloads: 1}) {
		t.Errorf("Stats() = %+v", got)
	}
}

func TestHandleWhileEditingAdvises(t *testing.T) {
	d, surf, rec := setup(t)
	surf.SetEditing(true)
	d.Handle(policy.Result{Reload: true, Reason: "Stage visibility change"})

	if len(rec.reinits) != 0 {
		t.Errorf("reinitialized while editing: %v", rec.reinits)
	}
	want := []bus.Event{{Name: bus.ReloadAdvisory, Payload: "Stage visibility change"}}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if got := d.Stats(); got != (Stats{Advisories: 1}) {
		t.Errorf("Stats() = %+v", got)
	}
}

func TestHandleNilCollaborators(t *testing.T) {
	b := bus.New()
	var got []bus.Event
	b.Subscribe(bus.Reinitialized, func(ev bus.Event) { got = append(got, ev) })
	d := New(nil, nil, b, nil)
	d.Handle(policy.Result{Reload: true, Reason: "Role privileges are revoked"})
	if len(got) != 1 {
		t.Errorf("published %d reinitialized events, want 1", len(got))
	}
}

func TestReinitializeAfterAdvisory(t *testing.T) {
	d, surf, rec := setup(t)
	surf.SetEditing(true)
	d.Handle(policy.Result{Reload: true, Reason: "User role is changed"})
	d.Reinitialize("User role is changed")

	if diff := cmp.Diff([]string{"User role is changed"}, rec.reinits); diff != "" {
		t.Errorf("reinits mismatch (-want +got):\n%s", diff)
	}
	want := []bus.Event{
		{Name: bus.ReloadAdvisory, Payload: "User role is changed"},
		{Name: bus.Reinitialized, Payload: "User role is changed"},
	}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if got := d.Stats(); got != (Stats{Advisories: 1, Reloads: 1}) {
		t.Errorf("Stats() = %+v", got)
	}
}
