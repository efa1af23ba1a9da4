package services

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_RunsLatestOnce(t *testing.T) {
	d := NewDebouncer(100 * time.Millisecond)
	var runs atomic.Int32
	var last atomic.Int32

	for i := 1; i <= 5; i++ {
		d.Trigger(func() {
			runs.Add(1)
			last.Store(int32(i))
		})
		time.Sleep(5 * time.Millisecond)
	}
	if !d.Pending() {
		t.Error("Pending() = false right after Trigger")
	}

	time.Sleep(400 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
	if got := last.Load(); got != 5 {
		t.Errorf("ran trigger %d, want 5", got)
	}
	if d.Pending() {
		t.Error("Pending() = true after the call ran")
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var runs atomic.Int32

	if d.Cancel() {
		t.Error("Cancel() = true with nothing pending")
	}
	d.Trigger(func() { runs.Add(1) })
	if !d.Cancel() {
		t.Error("Cancel() = false with a pending call")
	}

	time.Sleep(80 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Errorf("runs = %d after Cancel, want 0", got)
	}
}

func TestNewDebouncer_DefaultDelay(t *testing.T) {
	if d := NewDebouncer(0); d.delay != DefaultFilterDebounce {
		t.Errorf("delay = %s, want %s", d.delay, DefaultFilterDebounce)
	}
}
