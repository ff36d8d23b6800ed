package apihttp

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestIdleTrackerFiresWithoutRequests(t *testing.T) {
	var fired atomic.Int32
	tracker := newIdleTracker(10*time.Millisecond, func() { fired.Add(1) })
	defer tracker.stop()

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle callback never ran")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestIdleTrackerWaitsForActiveRequests(t *testing.T) {
	var fired atomic.Int32
	tracker := newIdleTracker(20*time.Millisecond, func() { fired.Add(1) })
	defer tracker.stop()

	tracker.begin()
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("idle fired while a request was active")
	}

	tracker.end()
	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle callback never ran after the request ended")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestIdleTrackerStop(t *testing.T) {
	var fired atomic.Int32
	tracker := newIdleTracker(10*time.Millisecond, func() { fired.Add(1) })
	tracker.stop()

	time.Sleep(40 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("stopped tracker fired")
	}
}
