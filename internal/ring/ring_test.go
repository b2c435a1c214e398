package ring

import (
	"sync"
	"testing"
)

func samples(n int, start float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)
	}
	return out
}

func TestPushPopRoundTrip(t *testing.T) {
	b := NewWithCapacity(16)
	b.Push(samples(4, 1))

	dst := make([]float32, 4)
	n := b.Pop(dst)
	if n != 4 {
		t.Fatalf("expected 4 samples, got %d", n)
	}
	for i, v := range dst {
		if v != float32(1+i) {
			t.Fatalf("sample %d: got %v", i, v)
		}
	}
}

func TestPopUnderflowReturnsFewer(t *testing.T) {
	b := NewWithCapacity(16)
	b.Push(samples(2, 0))

	dst := make([]float32, 5)
	n := b.Pop(dst)
	if n != 2 {
		t.Fatalf("expected underflow to return 2, got %d", n)
	}
}

func TestPushOverrunOverwritesOldest(t *testing.T) {
	b := NewWithCapacity(4) // rounds to 4
	b.Push(samples(4, 0))   // fills exactly: 0,1,2,3
	b.Push(samples(1, 99))  // one more push overwrites the oldest (0)

	if got := b.Backlog(); got != 4 {
		t.Fatalf("live_count should remain at capacity, got %d", got)
	}

	dst := make([]float32, 4)
	n := b.Pop(dst)
	if n != 4 {
		t.Fatalf("expected 4, got %d", n)
	}
	want := []float32{1, 2, 3, 99}
	for i, v := range want {
		if dst[i] != v {
			t.Fatalf("position %d: want %v got %v", i, v, dst[i])
		}
	}
}

func TestClearResetsBacklog(t *testing.T) {
	b := NewWithCapacity(8)
	b.Push(samples(4, 0))
	b.Clear()
	if got := b.Backlog(); got != 0 {
		t.Fatalf("expected 0 after clear, got %d", got)
	}
	dst := make([]float32, 4)
	if n := b.Pop(dst); n != 0 {
		t.Fatalf("pop after clear should return 0, got %d", n)
	}
}

func TestGrowPreservesContents(t *testing.T) {
	b := NewWithCapacity(4)
	b.Push(samples(4, 0))
	b.Push(samples(6, 10)) // forces a grow since 6 > capacity(4)

	if b.Backlog() == 0 {
		t.Fatal("expected live samples after grow")
	}
	dst := make([]float32, b.Backlog())
	n := b.Pop(dst)
	if n != len(dst) {
		t.Fatalf("expected to drain everything, got %d of %d", n, len(dst))
	}
}

func TestConcurrentPushPopNoRace(t *testing.T) {
	b := NewWithCapacity(256)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Push(samples(8, float32(i)))
		}
	}()
	go func() {
		defer wg.Done()
		dst := make([]float32, 8)
		for i := 0; i < 1000; i++ {
			b.Pop(dst)
		}
	}()
	wg.Wait()
}
