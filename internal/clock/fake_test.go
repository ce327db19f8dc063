package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAfterFuncFiresAtDeadline(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(5*time.Second, func() { fired++ })

	c.Advance(4999 * time.Millisecond)
	if fired != 0 {
		t.Fatalf("fired early: %d", fired)
	}
	c.Advance(time.Millisecond)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	c.Advance(time.Hour)
	if fired != 1 {
		t.Errorf("one-shot timer fired again: %d", fired)
	}
}

func TestStopCancels(t *testing.T) {
	c := Fake(epoch)
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Fatal("Stop() = false on pending timer")
	}
	if tm.Stop() {
		t.Error("second Stop() = true")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	if got := c.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
}

func TestRearmInsideCallback(t *testing.T) {
	c := Fake(epoch)
	var at []time.Time
	var tick func()
	tick = func() {
		at = append(at, c.Now())
		c.AfterFunc(5*time.Second, tick)
	}
	c.AfterFunc(5*time.Second, tick)

	c.Advance(16 * time.Second)
	if len(at) != 3 {
		t.Fatalf("ticks = %d, want 3", len(at))
	}
	for i, ts := range at {
		want := epoch.Add(time.Duration(i+1) * 5 * time.Second)
		if !ts.Equal(want) {
			t.Errorf("tick %d at %v, want %v", i, ts, want)
		}
	}
	if !c.Now().Equal(epoch.Add(16 * time.Second)) {
		t.Errorf("Now() = %v after Advance", c.Now())
	}
}
