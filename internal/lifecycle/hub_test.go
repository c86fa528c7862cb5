package lifecycle_test

import (
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"crease/internal/lifecycle"
	"crease/internal/logging"
)

func TestParseState(t *testing.T) {
	cases := map[string]lifecycle.State{
		"active":     lifecycle.StateActive,
		" Inactive ": lifecycle.StateInactive,
		"BACKGROUND": lifecycle.StateBackground,
	}
	for input, want := range cases {
		got, ok := lifecycle.ParseState(input)
		if !ok || got != want {
			t.Fatalf("ParseState(%q) = %q, %v", input, got, ok)
		}
	}
	if _, ok := lifecycle.ParseState("asleep"); ok {
		t.Fatal("expected unknown state to be rejected")
	}
}

func TestHubPublishNotifiesOnChange(t *testing.T) {
	hub := lifecycle.NewHub(logging.NewNop())
	if hub.Current() != lifecycle.StateActive {
		t.Fatalf("expected initial state active, got %s", hub.Current())
	}

	var got []lifecycle.State
	unsubscribe := hub.Subscribe(func(s lifecycle.State) { got = append(got, s) })

	if hub.Publish(lifecycle.StateActive) {
		t.Fatal("publishing the current state should not report a change")
	}
	if !hub.Publish(lifecycle.StateBackground) {
		t.Fatal("expected change to background")
	}
	if len(got) != 1 || got[0] != lifecycle.StateBackground {
		t.Fatalf("unexpected notifications: %v", got)
	}

	unsubscribe()
	unsubscribe()
	if hub.ListenerCount() != 0 {
		t.Fatalf("expected no listeners, got %d", hub.ListenerCount())
	}
	hub.Publish(lifecycle.StateActive)
	if len(got) != 1 {
		t.Fatalf("unsubscribed listener was notified: %v", got)
	}
}

func TestHubListenerMayUnsubscribeDuringPublish(t *testing.T) {
	hub := lifecycle.NewHub(logging.NewNop())
	var unsubscribe func()
	calls := 0
	unsubscribe = hub.Subscribe(func(lifecycle.State) {
		calls++
		unsubscribe()
	})
	hub.Publish(lifecycle.StateInactive)
	hub.Publish(lifecycle.StateActive)
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestSignalSourcePublishesStates(t *testing.T) {
	hub := lifecycle.NewHub(logging.NewNop())
	changes := make(chan lifecycle.State, 4)
	hub.Subscribe(func(s lifecycle.State) { changes <- s })

	// Keep the default SIGUSR handlers from terminating the test binary
	// before Run has registered.
	guard := make(chan os.Signal, 16)
	signal.Notify(guard, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(guard)

	source := lifecycle.NewSignalSource(hub, logging.NewNop())
	go func() { _ = source.Run(t.Context()) }()

	// Run registers its handler asynchronously; resend until observed.
	expect := func(sig syscall.Signal, want lifecycle.State) {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			_ = syscall.Kill(syscall.Getpid(), sig)
			select {
			case got := <-changes:
				if got != want {
					t.Fatalf("expected %s, got %s", want, got)
				}
				return
			case <-time.After(50 * time.Millisecond):
			case <-deadline:
				t.Fatalf("timed out waiting for %s", want)
			}
		}
	}
	expect(syscall.SIGUSR1, lifecycle.StateBackground)
	expect(syscall.SIGUSR2, lifecycle.StateActive)
}
