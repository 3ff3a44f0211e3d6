package cache

import "testing"

func TestFetchIfNeeded_IssuesExactlyOnce(t *testing.T) {
	var c Cell[int]
	issued := 0
	issue := func() { issued++ }

	for i := 0; i < 5; i++ {
		_, ok := c.FetchIfNeeded(issue)
		if ok {
			t.Errorf("call %d: got a value from an empty cell", i)
		}
	}
	if issued != 1 {
		t.Errorf("issued %d fetches, want 1", issued)
	}
}

func TestFetchIfNeeded_ReturnsFilledValue(t *testing.T) {
	var c Cell[string]
	c.FetchIfNeeded(func() {})
	c.Fill("fresh")

	got, ok := c.FetchIfNeeded(func() { t.Error("issued a fetch on a filled cell") })
	if !ok || got != "fresh" {
		t.Errorf("got (%q, %v), want (%q, true)", got, ok, "fresh")
	}
}

func TestFetchIfNeeded_ReissuesAfterInvalidate(t *testing.T) {
	var c Cell[int]
	issued := 0
	issue := func() { issued++ }

	c.FetchIfNeeded(issue)
	c.Fill(7)
	c.Invalidate()

	got, ok := c.FetchIfNeeded(issue)
	if !ok || got != 7 {
		t.Errorf("got (%v, %v), want (7, true)", got, ok)
	}
	if issued != 2 {
		t.Errorf("issued %d fetches, want 2", issued)
	}
}

func TestInvalidate_KeepsPreviousValue(t *testing.T) {
	var c Cell[int]
	c.Fill(42)
	c.Invalidate()

	got, ok := c.Get()
	if !ok || got != 42 {
		t.Errorf("got (%v, %v), want (42, true)", got, ok)
	}
}

func TestInvalidate_UncachedIsNoop(t *testing.T) {
	var c Cell[int]
	c.Fill(1)
	c.Invalidate()
	before, okBefore := c.Get()

	c.Invalidate()

	after, okAfter := c.Get()
	if before != after || okBefore != okAfter {
		t.Errorf("second Invalidate changed state: (%v, %v) -> (%v, %v)",
			before, okBefore, after, okAfter)
	}
	issued := 0
	c.FetchIfNeeded(func() { issued++ })
	if issued != 1 {
		t.Errorf("cell did not stay uncached: issued = %d, want 1", issued)
	}
}

func TestFilled(t *testing.T) {
	c := Filled(99)
	got, ok := c.Get()
	if !ok || got != 99 {
		t.Errorf("got (%v, %v), want (99, true)", got, ok)
	}
}
