package idmap

import (
	"testing"
	"time"
)

func TestGeneratorWaitsForClockWhenSequenceExhausted(t *testing.T) {
	g, err := NewGenerator(5)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	clock := Epoch.Add(time.Hour)
	g.now = func() time.Time { return clock }
	sleeps := 0
	g.sleep = func(d time.Duration) {
		sleeps++
		clock = clock.Add(d)
	}
	var prev int64
	// More than one millisecond's worth of sequence numbers.
	for i := 0; i < 3*(maxSequence+1); i++ {
		id := g.Next()
		if id <= prev {
			t.Fatalf("iteration %d: id %d not greater than %d", i, id, prev)
		}
		if node := (id >> sequenceBits) & maxNode; node != 5 {
			t.Fatalf("node bits = %d; want 5", node)
		}
		if Timestamp(id).After(clock) {
			t.Fatalf("iteration %d: id timestamp %v ahead of clock %v", i, Timestamp(id), clock)
		}
		prev = id
	}
	if sleeps != 2 {
		t.Fatalf("slept %d times; want 2", sleeps)
	}
}

func TestGeneratorWaitsOutClockRegression(t *testing.T) {
	g, err := NewGenerator(1)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	clock := Epoch.Add(time.Hour)
	g.now = func() time.Time { return clock }
	var slept time.Duration
	g.sleep = func(d time.Duration) {
		slept += d
		clock = clock.Add(d)
	}
	first := g.Next()
	clock = clock.Add(-10 * time.Millisecond)
	var last int64
	for i := 0; i <= maxSequence; i++ {
		last = g.Next()
	}
	if last <= first {
		t.Fatalf("id %d not greater than %d", last, first)
	}
	if slept != 11*time.Millisecond {
		t.Fatalf("slept %v; want 11ms", slept)
	}
	if !Timestamp(last).Equal(Timestamp(first).Add(time.Millisecond)) {
		t.Fatalf("timestamp after wait = %v; want %v", Timestamp(last), Timestamp(first).Add(time.Millisecond))
	}
}

func TestGeneratorClockRegression(t *testing.T) {
	g, err := NewGenerator(0)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	now := Epoch.Add(time.Hour)
	g.now = func() time.Time { return now }
	first := g.Next()
	now = now.Add(-time.Second)
	second := g.Next()
	if second <= first {
		t.Fatalf("id after regression %d not greater than %d", second, first)
	}
	if Timestamp(second).Before(Timestamp(first)) {
		t.Fatalf("timestamp moved backwards")
	}
}

func TestGeneratorNodeRange(t *testing.T) {
	for _, n := range []int64{-1, maxNode + 1} {
		if _, err := NewGenerator(n); err == nil {
			t.Fatalf("NewGenerator(%d) succeeded; want error", n)
		}
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	g, _ := NewGenerator(1)
	at := time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	g.now = func() time.Time { return at }
	if got := Timestamp(g.Next()); !got.Equal(at) {
		t.Fatalf("Timestamp = %v; want %v", got, at)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("did:plc:alice", 0)
	if a != Fingerprint("did:plc:alice", 0) {
		t.Fatalf("fingerprint not deterministic")
	}
	if a < 0 {
		t.Fatalf("fingerprint %d has top bit set", a)
	}
	if a == Fingerprint("did:plc:alice", 1) {
		t.Fatalf("salted fingerprint equals plain fingerprint")
	}
	if a == Fingerprint("did:plc:bob", 0) {
		t.Fatalf("distinct keys share a fingerprint")
	}
	if deriveNodeID("host:1") > maxNode {
		t.Fatalf("derived node out of range")
	}
}
