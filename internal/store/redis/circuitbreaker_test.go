package redis

import (
	"errors"
	"testing"
	"time"
)

var errRedisDown = errors.New("dial tcp: connection refused")

// testBreaker returns a breaker on a fake clock; move *clock to advance
// time.
func testBreaker(maxFailures int, resetTimeout time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(maxFailures, resetTimeout)
	now := time.Unix(1700000000, 0).UTC()
	cb.now = func() time.Time { return now }
	return cb, &now
}

func fail() error    { return errRedisDown }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := testBreaker(3, 10*time.Second)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(fail); !errors.Is(err, errRedisDown) {
			t.Fatalf("failure %d: err = %v, want the write error", i, err)
		}
	}
	if got := cb.CurrentState(); got != StateClosed {
		t.Fatalf("state after 2/3 failures = %v, want closed", got)
	}

	cb.Execute(fail)
	if got := cb.CurrentState(); got != StateOpen {
		t.Fatalf("state after 3/3 failures = %v, want open", got)
	}

	// While open the write must not even be attempted.
	attempted := false
	err := cb.Execute(func() error { attempted = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if attempted {
		t.Error("write ran while the circuit was open")
	}
}

func TestCircuitBreaker_RecoveryWriteCloses(t *testing.T) {
	cb, clock := testBreaker(1, 10*time.Second)
	cb.Execute(fail)

	// Still inside the reset window.
	*clock = clock.Add(10 * time.Second)
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err before timeout = %v, want ErrCircuitOpen", err)
	}

	*clock = clock.Add(time.Second)
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("recovery write rejected: %v", err)
	}
	if got := cb.CurrentState(); got != StateClosed {
		t.Errorf("state after successful recovery write = %v, want closed", got)
	}
}

func TestCircuitBreaker_FailedRecoveryReopens(t *testing.T) {
	cb, clock := testBreaker(1, 10*time.Second)
	cb.Execute(fail)

	*clock = clock.Add(11 * time.Second)
	if err := cb.Execute(fail); !errors.Is(err, errRedisDown) {
		t.Fatalf("recovery write err = %v, want the write error", err)
	}
	if got := cb.CurrentState(); got != StateOpen {
		t.Fatalf("state after failed recovery write = %v, want open", got)
	}

	// The failure restarts the reset window.
	*clock = clock.Add(10 * time.Second)
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err inside restarted window = %v, want ErrCircuitOpen", err)
	}
	*clock = clock.Add(time.Second)
	if err := cb.Execute(succeed); err != nil {
		t.Errorf("second recovery write rejected: %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsStrikes(t *testing.T) {
	cb, _ := testBreaker(3, 10*time.Second)

	cb.Execute(fail)
	cb.Execute(fail)
	cb.Execute(succeed)
	cb.Execute(fail)
	cb.Execute(fail)

	if got := cb.CurrentState(); got != StateClosed {
		t.Errorf("state = %v, want closed: the success must clear the strike count", got)
	}
}

func TestCircuitBreaker_HalfOpenAdmitsOneWrite(t *testing.T) {
	cb, clock := testBreaker(1, 10*time.Second)
	cb.Execute(fail)
	*clock = clock.Add(11 * time.Second)

	// A write arriving while the recovery write is still in flight is
	// rejected, not run concurrently against a maybe-down server.
	var during error
	err := cb.Execute(func() error {
		during = cb.Execute(succeed)
		return nil
	})
	if err != nil {
		t.Fatalf("recovery write err = %v", err)
	}
	if !errors.Is(during, ErrCircuitOpen) {
		t.Errorf("concurrent write err = %v, want ErrCircuitOpen", during)
	}
	if got := cb.CurrentState(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestCircuitBreaker_TransitionsObserved(t *testing.T) {
	cb, clock := testBreaker(1, 10*time.Second)
	var seen []string
	cb.OnStateChange = func(from, to State) {
		seen = append(seen, from.String()+">"+to.String())
	}

	cb.Execute(fail)
	*clock = clock.Add(11 * time.Second)
	cb.Execute(succeed)

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
}
