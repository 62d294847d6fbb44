// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	_ Clock = (*FakeClock)(nil)
	_ Clock = realClock{}
)

func TestFakeClockNow(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(5 * time.Second)
	if got, want := clock.Now(), epoch.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockAfter(t *testing.T) {
	clock := Fake(epoch)
	channel := clock.After(3 * time.Second)

	clock.Advance(2 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	clock.Advance(time.Second)
	select {
	case fired := <-channel:
		if want := epoch.Add(3 * time.Second); !fired.Equal(want) {
			t.Errorf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeClockAfterNonPositive(t *testing.T) {
	clock := Fake(epoch)
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-clock.After(d):
		default:
			t.Errorf("After(%v) did not fire immediately", d)
		}
	}
	if clock.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", clock.PendingCount())
	}
}

func TestFakeClockAfterFunc(t *testing.T) {
	clock := Fake(epoch)
	calls := 0
	clock.AfterFunc(time.Minute, func() { calls++ })

	clock.Advance(59 * time.Second)
	if calls != 0 {
		t.Fatal("AfterFunc ran early")
	}
	clock.Advance(time.Second)
	clock.Advance(time.Hour)
	if calls != 1 {
		t.Fatalf("AfterFunc ran %d times, want 1", calls)
	}
}

func TestFakeClockAfterFuncStop(t *testing.T) {
	clock := Fake(epoch)
	ran := false
	timer := clock.AfterFunc(time.Second, func() { ran = true })

	if !timer.Stop() {
		t.Error("first Stop = false, want true")
	}
	if timer.Stop() {
		t.Error("second Stop = true, want false")
	}
	clock.Advance(time.Second)
	if ran {
		t.Error("stopped AfterFunc ran")
	}

	fired := clock.AfterFunc(time.Second, func() {})
	clock.Advance(time.Second)
	if fired.Stop() {
		t.Error("Stop after firing = true, want false")
	}
}

func TestFakeClockAfterFuncNonPositive(t *testing.T) {
	clock := Fake(epoch)
	ran := false
	timer := clock.AfterFunc(0, func() { ran = true })
	if !ran {
		t.Error("AfterFunc(0) did not run synchronously")
	}
	if timer.Stop() {
		t.Error("Stop on an immediate timer = true, want false")
	}
}

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	clock := Fake(epoch)
	var order []int
	clock.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	clock.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	clock.Advance(10 * time.Second)
	if !slices.Equal(order, []int{1, 2, 3}) {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestFakeClockWaitForTimers(t *testing.T) {
	clock := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-clock.After(time.Second)
		close(done)
	}()

	clock.WaitForTimers(1)
	clock.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("waiter not released by Advance")
	}
}

func TestFakeClockPendingCount(t *testing.T) {
	clock := Fake(epoch)
	stopped := clock.AfterFunc(time.Second, func() {})
	clock.AfterFunc(time.Second, func() {})
	clock.After(2 * time.Second)
	stopped.Stop()

	if got := clock.PendingCount(); got != 2 {
		t.Errorf("PendingCount = %d, want 2", got)
	}
	clock.Advance(time.Second)
	if got := clock.PendingCount(); got != 1 {
		t.Errorf("PendingCount after Advance = %d, want 1", got)
	}
}

func TestFakeClockConcurrentAccess(t *testing.T) {
	clock := Fake(epoch)
	var group sync.WaitGroup
	for range 10 {
		group.Add(1)
		go func() {
			defer group.Done()
			timer := clock.AfterFunc(time.Second, func() {})
			clock.Now()
			timer.Stop()
		}()
	}
	group.Wait()
	clock.Advance(time.Second)
	if clock.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", clock.PendingCount())
	}
}
