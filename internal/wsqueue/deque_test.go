// 运行时使用 -race 标志检测竞态条件：
//
//	go test -race -v ./internal/wsqueue/...
package wsqueue

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

type task struct {
	id int
}

// ============================================================================
// 单线程语义
// ============================================================================

func TestPushPopLIFO(t *testing.T) {
	d := New[task](8)
	for i := 0; i < 5; i++ {
		if !d.Push(&task{id: i}) {
			t.Fatalf("Push %d should succeed", i)
		}
	}
	for i := 4; i >= 0; i-- {
		got := d.Pop()
		if got == nil || got.id != i {
			t.Fatalf("Expected %d, got %v", i, got)
		}
	}
	if d.Pop() != nil {
		t.Error("Pop on empty deque should return nil")
	}
}

func TestStealFIFO(t *testing.T) {
	d := New[task](8)
	for i := 0; i < 3; i++ {
		d.Push(&task{id: i})
	}
	for i := 0; i < 3; i++ {
		got := d.Steal()
		if got == nil || got.id != i {
			t.Fatalf("Expected %d, got %v", i, got)
		}
	}
	if d.Steal() != nil {
		t.Error("Steal on empty deque should return nil")
	}
}

func TestCapacityIsPowerOfTwo(t *testing.T) {
	d := New[task](100)
	if d.Cap() != 128 {
		t.Errorf("Expected capacity 128, got %d", d.Cap())
	}
}

func TestPushFailsWhenFull(t *testing.T) {
	d := New[task](4)
	for i := 0; i < 4; i++ {
		if !d.Push(&task{id: i}) {
			t.Fatalf("Push %d should succeed", i)
		}
	}
	if d.Push(&task{id: 99}) {
		t.Fatal("Push into full deque should fail")
	}
	if d.Len() != 4 {
		t.Errorf("Expected len 4, got %d", d.Len())
	}

	// 窃取腾出空间后可以继续 Push，且环形复用不丢元素
	if got := d.Steal(); got == nil || got.id != 0 {
		t.Fatalf("Expected to steal 0, got %v", got)
	}
	if !d.Push(&task{id: 4}) {
		t.Fatal("Push after steal should succeed")
	}
	seen := map[int]bool{}
	for got := d.Pop(); got != nil; got = d.Pop() {
		seen[got.id] = true
	}
	for i := 1; i <= 4; i++ {
		if !seen[i] {
			t.Errorf("Task %d lost after wrap-around", i)
		}
	}
}

func TestEmptyAfterDrain(t *testing.T) {
	d := New[task](2)
	d.Push(&task{})
	d.Pop()
	if !d.Empty() {
		t.Error("Deque should be empty")
	}
	if d.Len() != 0 {
		t.Errorf("Expected len 0, got %d", d.Len())
	}
}

// ============================================================================
// 并发：每个任务恰好交付一次
// ============================================================================

func TestNoDoubleDelivery(t *testing.T) {
	const (
		total    = 200000
		stealers = 4
	)

	d := New[task](1024)
	delivered := make([]int32, total)
	var taken atomic.Int64
	var done atomic.Bool

	record := func(tk *task) {
		if atomic.AddInt32(&delivered[tk.id], 1) != 1 {
			t.Errorf("Task %d delivered more than once", tk.id)
		}
		taken.Add(1)
	}

	var wg sync.WaitGroup
	for i := 0; i < stealers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !done.Load() || !d.Empty() {
				if tk := d.Steal(); tk != nil {
					record(tk)
				} else {
					runtime.Gosched()
				}
			}
		}()
	}

	// owner：交替 Push 与 Pop，满了就自己消费
	for i := 0; i < total; i++ {
		tk := &task{id: i}
		for !d.Push(tk) {
			if got := d.Pop(); got != nil {
				record(got)
			}
		}
		if i%3 == 0 {
			if got := d.Pop(); got != nil {
				record(got)
			}
		}
	}
	for got := d.Pop(); got != nil; got = d.Pop() {
		record(got)
	}
	done.Store(true)
	wg.Wait()

	// Pop 可能因竞争失败返回 nil，此时元素已被窃取者拿走
	for got := d.Steal(); got != nil; got = d.Steal() {
		record(got)
	}

	if taken.Load() != total {
		t.Errorf("Expected %d deliveries, got %d", total, taken.Load())
	}
	for id, n := range delivered {
		if n != 1 {
			t.Fatalf("Task %d delivered %d times", id, n)
		}
	}
}

func BenchmarkPushPop(b *testing.B) {
	d := New[task](256)
	tk := &task{}
	for i := 0; i < b.N; i++ {
		d.Push(tk)
		d.Pop()
	}
}
