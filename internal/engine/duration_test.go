package engine

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestPageDurations(t *testing.T) {
	const (
		pages     = 10
		page      = 3 * time.Second
		fade      = 500 * time.Millisecond
		variation = 0.05
	)
	durations := pageDurations(pages, page, fade, variation, rand.New(rand.NewSource(7)))
	if len(durations) != pages {
		t.Fatalf("Expected %d durations, got %d", pages, len(durations))
	}

	// The visible time is the clip time minus the cross-fades.
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	want := pages*page + (pages-1)*fade
	if sum != want {
		t.Errorf("Expected sum %v, got %v", want, sum)
	}

	for i := 1; i < pages; i++ {
		change := float64(durations[i])/float64(durations[i-1]) - 1
		if math.Abs(change) > variation+0.001 {
			t.Errorf("Clip %d changes by %f (prev: %v, curr: %v)", i, change, durations[i-1], durations[i])
		}
	}
	for i, d := range durations {
		if d <= 2*fade {
			t.Errorf("Clip %d lasts %v, not longer than two fades", i, d)
		}
	}
}

func TestPageDurationsWithoutVariation(t *testing.T) {
	got := pageDurations(4, 2*time.Second, 0, 0, rand.New(rand.NewSource(1)))
	for i, d := range got {
		if d != 2*time.Second {
			t.Errorf("page %d: got %v, want 2s", i, d)
		}
	}

	if got := pageDurations(0, time.Second, 0, 0.1, rand.New(rand.NewSource(1))); got != nil {
		t.Errorf("no pages: got %v", got)
	}
	one := pageDurations(1, 3*time.Second, time.Second, 0, rand.New(rand.NewSource(1)))
	if len(one) != 1 || one[0] != 3*time.Second {
		t.Errorf("single page: got %v", one)
	}
}
