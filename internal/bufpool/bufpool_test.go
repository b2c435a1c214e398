package bufpool

import (
	"sync"
	"testing"
)

func TestRentReturnReusesBuffer(t *testing.T) {
	p := New()
	b := p.Rent(1500)
	if len(b) != 1500 {
		t.Fatalf("expected len 1500, got %d", len(b))
	}
	origCap := cap(b)
	p.Return(b)

	b2 := p.Rent(1500)
	if cap(b2) != origCap {
		t.Fatalf("expected reused capacity %d, got %d", origCap, cap(b2))
	}
}

func TestRentOversizedBypassesPool(t *testing.T) {
	p := New()
	b := p.Rent(maxPooledCapacity * 2)
	if len(b) != maxPooledCapacity*2 {
		t.Fatalf("expected exact length for oversized rent, got %d", len(b))
	}
	p.Return(b) // must not panic
}

func TestConcurrentRentReturnNoRace(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b := p.Rent(4096)
				b[0] = 1
				p.Return(b)
			}
		}()
	}
	wg.Wait()
}

func TestClassForBoundaries(t *testing.T) {
	if classFor(1024) != 0 {
		t.Fatalf("expected class 0 for exactly 1024")
	}
	if classFor(1025) != 1 {
		t.Fatalf("expected class 1 for 1025")
	}
	if classFor(maxPooledCapacity+1) != -1 {
		t.Fatalf("expected no class beyond max")
	}
}
