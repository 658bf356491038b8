package dataset

import (
	"sync"
	"testing"
)

func TestQueueRoundRobinCycleVisitsEveryRecordOnce(t *testing.T) {
	q := NewQueue([]Record{{ID: "1"}, {ID: "2"}, {ID: "3"}})

	for cycle := 0; cycle < 3; cycle++ {
		seen := map[string]int{}
		for i := 0; i < 3; i++ {
			r, ok := q.Next()
			if !ok {
				t.Fatal("expected ok=true")
			}
			seen[r.ID]++
		}
		for _, id := range []string{"1", "2", "3"} {
			if seen[id] != 1 {
				t.Fatalf("cycle %d: record %s visited %d times, want 1", cycle, id, seen[id])
			}
		}
	}
}

func TestQueueConcurrentAccessIsSafe(t *testing.T) {
	q := NewQueue([]Record{{ID: "1"}, {ID: "2"}})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Next()
		}()
	}
	wg.Wait()
}

func TestQueueEmptyIsLegal(t *testing.T) {
	q := NewQueue(nil)
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
	if _, ok := q.Next(); ok {
		t.Fatal("expected ok=false")
	}
}
