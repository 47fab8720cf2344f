package ratelimit

import (
	"testing"
	"time"
)

func TestLoopbackBypasses(t *testing.T) {
	l := New()
	for i := 0; i < 500; i++ {
		allowed, _ := l.Allow("127.0.0.1:5000")
		if !allowed {
			t.Fatalf("loopback should never be rate limited (call %d)", i)
		}
	}
}

func TestS6RateLimitAndCooldown(t *testing.T) {
	l := New()
	clock := time.Now()
	l.now = func() time.Time { return clock }

	addr := "203.0.113.5:4000"
	allowedCount := 0
	var firstRejectAt int
	for i := 0; i < 120; i++ {
		allowed, _ := l.Allow(addr)
		if allowed {
			allowedCount++
		} else if firstRejectAt == 0 {
			firstRejectAt = i + 1 // 1-indexed message number
		}
	}
	if allowedCount != windowEvents {
		t.Errorf("allowedCount = %d, want %d", allowedCount, windowEvents)
	}
	if firstRejectAt != windowEvents+1 {
		t.Errorf("first rejection at message %d, want %d", firstRejectAt, windowEvents+1)
	}

	// Still within cooldown.
	clock = clock.Add(1 * time.Second)
	if allowed, _ := l.Allow(addr); allowed {
		t.Error("expected still-rejected during cooldown window")
	}

	// Past the 5s cooldown, traffic resumes.
	clock = clock.Add(5 * time.Second)
	if allowed, _ := l.Allow(addr); !allowed {
		t.Error("expected traffic to resume after cooldown elapses")
	}
}

func TestBucketsAreIndependentPerAddress(t *testing.T) {
	l := New()
	clock := time.Now()
	l.now = func() time.Time { return clock }

	for i := 0; i < windowEvents; i++ {
		l.Allow("198.51.100.1:1")
	}
	allowed, _ := l.Allow("198.51.100.1:1")
	if allowed {
		t.Fatal("first address should now be rate limited")
	}
	allowed, _ = l.Allow("198.51.100.2:1")
	if !allowed {
		t.Fatal("a different address should have its own bucket")
	}
}
