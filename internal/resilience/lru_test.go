package resilience

import "testing"

func TestLRUEvictsOldest(t *testing.T) {
	t.Parallel()

	c := NewLRU[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	if c.Contains("a") {
		t.Fatal("oldest entry should have been evicted")
	}
	if !c.Contains("b") || !c.Contains("c") {
		t.Fatal("recent entries should survive")
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
}

func TestLRUGetPromotes(t *testing.T) {
	t.Parallel()

	c := NewLRU[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("get a = %d, %v", v, ok)
	}

	c.Put("c", 3)
	if c.Contains("b") {
		t.Fatal("least recently used entry should have been evicted")
	}
	if !c.Contains("a") {
		t.Fatal("promoted entry should survive")
	}
}

func TestLRUPutUpdatesExisting(t *testing.T) {
	t.Parallel()

	c := NewLRU[string, int](2)
	c.Put("a", 1)
	c.Put("a", 9)

	if v, _ := c.Get("a"); v != 9 {
		t.Fatalf("value = %d, want 9", v)
	}
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatal("clear should empty the cache")
	}
}
