package bsl

import "testing"

func TestScoreS4AdvancedMatch(t *testing.T) {
	server := ServerFile{Filename: "movie.mkv", SizeKnown: true, Size: 900_000_000}

	// First report: name, ext, size (within 1.5MiB), and mime all match.
	c1 := ClientFile{Name: "Movie.MKV", Size: 900_001_000, Type: "video/x-matroska"}
	if got := Score(server, c1); got != 4 {
		t.Errorf("Score(c1) = %d, want 4", got)
	}

	// Second report: size now differs by > 1.5MiB, so size criterion fails,
	// but score is still 3 (name, ext, mime).
	c2 := ClientFile{Name: "Movie.MKV", Size: 901_600_000, Type: "video/x-matroska"}
	if got := Score(server, c2); got != 3 {
		t.Errorf("Score(c2) = %d, want 3", got)
	}
}

func TestMatcherManualMatchTakesPrecedence(t *testing.T) {
	m := Matcher{AdvancedMatch: true, Threshold: 4}
	servers := []ServerFile{{Filename: "episode01.mkv"}}
	client := ClientFile{Name: "totally-different-name.mkv"}

	manual := func(fp, clientLower string) (string, bool) {
		if fp == "fp1" && clientLower == "totally-different-name.mkv" {
			return "episode01.mkv", true
		}
		return "", false
	}

	name, ok := m.Match("fp1", client, servers, manual)
	if !ok || name != "episode01.mkv" {
		t.Fatalf("Match = %q, %v, want episode01.mkv, true", name, ok)
	}
}

func TestMatcherFallsBackToExactName(t *testing.T) {
	m := Matcher{AdvancedMatch: false}
	servers := []ServerFile{{Filename: "movie.mkv"}}
	client := ClientFile{Name: "MOVIE.MKV"}

	name, ok := m.Match("fp1", client, servers, nil)
	if !ok || name != "movie.mkv" {
		t.Fatalf("Match = %q, %v, want movie.mkv, true", name, ok)
	}
}

func TestMatcherBelowThresholdFails(t *testing.T) {
	m := Matcher{AdvancedMatch: true, Threshold: 4}
	servers := []ServerFile{{Filename: "movie.mkv"}}
	client := ClientFile{Name: "something-else.avi"}

	_, ok := m.Match("fp1", client, servers, nil)
	if ok {
		t.Fatal("expected no match below threshold and no exact-name fallback")
	}
}

func TestAggregateAnyMode(t *testing.T) {
	matches := []map[int]bool{
		{0: true},
		{1: true},
	}
	active := Aggregate("any", matches, 2)
	if !active[0] || !active[1] {
		t.Errorf("active = %v, want both true", active)
	}
}

func TestAggregateAllMode(t *testing.T) {
	matches := []map[int]bool{
		{0: true, 1: true},
		{0: true},
	}
	active := Aggregate("all", matches, 2)
	if !active[0] {
		t.Errorf("index 0 should be active (both reported), got %v", active)
	}
	if active[1] {
		t.Errorf("index 1 should not be active (only one member matched), got %v", active)
	}
}

func TestAggregateIdempotentS5(t *testing.T) {
	// §8 property 5: reporting the same payload twice yields identical results.
	matches1 := []map[int]bool{{0: true}}
	matches2 := []map[int]bool{{0: true}}
	a1 := Aggregate("any", matches1, 1)
	a2 := Aggregate("any", matches2, 1)
	if a1[0] != a2[0] {
		t.Errorf("aggregation not idempotent: %v vs %v", a1, a2)
	}
}
