package waitlist

import (
	"testing"
	"time"
)

func TestRegisterAndNotifyWakesWaiter(t *testing.T) {
	wl := New()
	wake, cancel := wl.Register("emails")
	defer cancel()

	wl.Notify("emails")

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken within 1s")
	}
}

func TestNotifyWithNoWaitersIsNoop(t *testing.T) {
	wl := New()
	wl.Notify("emails") // must not panic or block
}

func TestNotifyWakesOldestFirst(t *testing.T) {
	wl := New()
	wake1, cancel1 := wl.Register("emails")
	defer cancel1()
	wake2, cancel2 := wl.Register("emails")
	defer cancel2()

	wl.Notify("emails")

	select {
	case <-wake1:
	default:
		t.Fatal("expected the first-registered waiter to be woken first")
	}

	select {
	case <-wake2:
		t.Fatal("second waiter should not have been woken yet")
	default:
	}
}

func TestCancelRemovesWaiterBeforeNotify(t *testing.T) {
	wl := New()
	wake, cancel := wl.Register("emails")
	cancel()

	wl.Notify("emails")

	select {
	case <-wake:
		t.Fatal("cancelled waiter should never be woken")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyAllWakesEveryWaiter(t *testing.T) {
	wl := New()
	wake1, cancel1 := wl.Register("emails")
	defer cancel1()
	wake2, cancel2 := wl.Register("emails")
	defer cancel2()

	wl.NotifyAll("emails")

	for i, ch := range []<-chan struct{}{wake1, wake2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("waiter %d was not woken by NotifyAll", i)
		}
	}
}

func TestArmAtFiresNotifyAtScheduledTime(t *testing.T) {
	wl := New()
	defer wl.Close()

	wake, cancel := wl.Register("emails")
	defer cancel()

	wl.ArmAt("emails", time.Now().Add(20*time.Millisecond))

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("ArmAt did not fire Notify within the expected window")
	}
}

func TestArmAtPastTimeFiresImmediately(t *testing.T) {
	wl := New()
	defer wl.Close()

	wake, cancel := wl.Register("emails")
	defer cancel()

	wl.ArmAt("emails", time.Now().Add(-time.Hour))

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("ArmAt with a past time should fire immediately")
	}
}

func TestCloseStopsArmedTimers(t *testing.T) {
	wl := New()
	wl.ArmAt("emails", time.Now().Add(time.Hour))
	wl.Close() // must not panic; timer should be stopped cleanly
}

func TestQueuesAreIndependent(t *testing.T) {
	wl := New()
	wakeA, cancelA := wl.Register("a")
	defer cancelA()
	wakeB, cancelB := wl.Register("b")
	defer cancelB()

	wl.Notify("a")

	select {
	case <-wakeA:
	case <-time.After(time.Second):
		t.Fatal("queue a waiter was not woken")
	}

	select {
	case <-wakeB:
		t.Fatal("queue b waiter should not be woken by queue a's Notify")
	default:
	}
}
