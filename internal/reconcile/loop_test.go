package reconcile

import (
	"sync"
	"testing"
)

func TestLoopRunsInPostOrder(t *testing.T) {
	l := NewLoop(4)
	defer l.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		if !l.Post(func() { got = append(got, i) }) {
			t.Fatal("Post on open loop returned false")
		}
	}
	l.Do(func() {})

	if len(got) != 100 {
		t.Fatalf("ran %d closures, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("closure %d ran at position %d", v, i)
		}
	}
}

func TestLoopSerializesConcurrentPosters(t *testing.T) {
	l := NewLoop(0)
	defer l.Close()

	// counter is only touched on the loop; the race detector flags any
	// closure running elsewhere.
	counter := 0
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				l.Post(func() { counter++ })
			}
		}()
	}
	wg.Wait()

	var final int
	l.Do(func() { final = counter })
	if final != 2000 {
		t.Errorf("counter = %d, want 2000", final)
	}
}

func TestLoopCloseDrainsAndRejects(t *testing.T) {
	l := NewLoop(8)
	ran := 0
	for i := 0; i < 5; i++ {
		l.Post(func() { ran++ })
	}
	l.Close()

	if ran != 5 {
		t.Errorf("ran %d queued closures before exit, want 5", ran)
	}
	if l.Post(func() { ran++ }) {
		t.Error("Post after Close returned true")
	}
	if l.Do(func() { ran++ }) {
		t.Error("Do after Close returned true")
	}
	if ran != 5 {
		t.Error("closure ran after Close")
	}
	select {
	case <-l.Done():
	default:
		t.Error("Done not closed after Close")
	}
	l.Close()
}
