package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := NewShardedSignalCache[string]()
	key := SlotKey("MNQ", "5m", 7)

	if _, ok := c.Get(key); ok {
		t.Fatal("unprocessed slot must miss")
	}

	c.Put(key, []string{"a", "b"})
	vals, ok := c.Get(key)
	if !ok || len(vals) != 2 {
		t.Fatalf("Get = %v, %v; want 2 values", vals, ok)
	}
}

func TestNilPutMarksSlotProcessed(t *testing.T) {
	c := NewShardedSignalCache[string]()
	key := SlotKey("MNQ", "5m", 0)

	c.Put(key, nil)
	vals, ok := c.Get(key)
	if !ok {
		t.Fatal("nil put must still create the slot")
	}
	if len(vals) != 0 {
		t.Fatalf("slot = %v, want empty", vals)
	}
}

func TestSlotKeysScopeIndependently(t *testing.T) {
	c := NewShardedSignalCache[int]()
	c.Put(SlotKey("MNQ", "5m", 1), []int{1})
	c.Put(SlotKey("MNQ", "1h", 1), []int{2})
	c.Put(SlotKey("ES", "5m", 1), []int{3})

	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3 independent slots", c.Len())
	}
	vals, _ := c.Get(SlotKey("MNQ", "1h", 1))
	if len(vals) != 1 || vals[0] != 2 {
		t.Fatalf("scoped slot = %v, want [2]", vals)
	}
}

func TestResetDropsEverything(t *testing.T) {
	c := NewShardedSignalCache[int]()
	for i := 0; i < 100; i++ {
		c.Put(SlotKey("MNQ", "5m", i), []int{i})
	}
	c.Reset()
	if c.Len() != 0 {
		t.Fatalf("Len after reset = %d, want 0", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewShardedSignalCache[int]()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := SlotKey(fmt.Sprintf("c%d", g), "5m", i)
				c.Put(key, []int{i})
				if _, ok := c.Get(key); !ok {
					t.Errorf("goroutine %d: slot %s missing after put", g, key)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if c.Len() != 8*200 {
		t.Fatalf("Len = %d, want %d", c.Len(), 8*200)
	}
}
