package push

import (
	"testing"
	"time"
)

func TestFIFOFIFOOrder(t *testing.T) {
	f := newFIFO()
	f.push("a")
	f.push("b")
	f.push("c")

	for _, want := range []string{"a", "b", "c"} {
		item, ok := f.pop(time.Second)
		if !ok || item.(string) != want {
			t.Fatalf("pop() = (%v, %v), want (%q, true)", item, ok, want)
		}
	}
}

func TestFIFOPopTimesOutWhenEmpty(t *testing.T) {
	f := newFIFO()
	start := time.Now()
	_, ok := f.pop(30 * time.Millisecond)
	if ok {
		t.Error("pop() on empty fifo returned ok=true")
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("pop() returned before its timeout elapsed")
	}
}

func TestFIFOPopWakesOnPush(t *testing.T) {
	f := newFIFO()
	done := make(chan any, 1)
	go func() {
		item, _ := f.pop(time.Second)
		done <- item
	}()

	time.Sleep(10 * time.Millisecond)
	f.push("late")

	select {
	case item := <-done:
		if item.(string) != "late" {
			t.Errorf("pop() = %v, want \"late\"", item)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("pop() did not wake on push")
	}
}
