package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestAllowUnderLimit(t *testing.T) {
	l := NewIPLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
}

func TestDenyOverLimit(t *testing.T) {
	l := NewIPLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		l.Allow("1.2.3.4")
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("4th request should be denied")
	}
}

func TestDifferentIPsIndependent(t *testing.T) {
	l := NewIPLimiter(2, time.Hour)

	l.Allow("1.1.1.1")
	l.Allow("1.1.1.1")

	if l.Allow("1.1.1.1") {
		t.Fatal("1.1.1.1 should be denied")
	}
	if !l.Allow("2.2.2.2") {
		t.Fatal("2.2.2.2 should be allowed")
	}
}

func TestWindowSlides(t *testing.T) {
	clock := newClock()
	l := NewIPLimiter(2, time.Minute, WithClock(clock.now))

	l.Allow("1.2.3.4")
	clock.advance(30 * time.Second)
	l.Allow("1.2.3.4")

	if l.Allow("1.2.3.4") {
		t.Fatal("should be denied before window expires")
	}
	if got := l.RetryAfter("1.2.3.4"); got != 30*time.Second {
		t.Fatalf("expected retry after 30s, got %v", got)
	}

	clock.advance(31 * time.Second)
	if l.RetryAfter("1.2.3.4") != 0 {
		t.Fatal("expected no wait once the oldest request expired")
	}
	if !l.Allow("1.2.3.4") {
		t.Fatal("should be allowed after the oldest request expired")
	}
}

func TestSweep(t *testing.T) {
	clock := newClock()
	l := NewIPLimiter(2, time.Minute, WithClock(clock.now))

	l.Allow("1.1.1.1")
	clock.advance(45 * time.Second)
	l.Allow("2.2.2.2")
	clock.advance(30 * time.Second)

	l.Sweep()
	if l.Len() != 1 {
		t.Fatalf("expected 1 tracked IP after sweep, got %d", l.Len())
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := ClientIP(r); got != "10.0.0.1" {
		t.Errorf("expected 10.0.0.1, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.7" {
		t.Errorf("expected forwarded address, got %q", got)
	}

	r = httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = "unix"
	if got := ClientIP(r); got != "unix" {
		t.Errorf("expected raw RemoteAddr fallback, got %q", got)
	}
}
