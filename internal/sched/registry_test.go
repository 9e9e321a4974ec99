package sched

import (
	"sync"
	"testing"
)

func TestRegistryConcurrentAdd(t *testing.T) {
	reg := NewRegistry()

	const n = 64
	slots := make([]*slot, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slots[i] = reg.add(&Scheduler{})
		}(i)
	}
	wg.Wait()

	if reg.Len() != n {
		t.Fatalf("Expected %d slots, got %d", n, reg.Len())
	}
	ids := make(map[int64]bool)
	for _, sl := range reg.snapshot() {
		if ids[sl.id] {
			t.Errorf("Duplicate slot id %d", sl.id)
		}
		ids[sl.id] = true
	}
	for i := int64(1); i <= n; i++ {
		if !ids[i] {
			t.Errorf("Missing slot id %d", i)
		}
	}
}

func TestRegistryTombstone(t *testing.T) {
	reg := NewRegistry()
	a := reg.add(&Scheduler{})
	b := reg.add(&Scheduler{})

	// 打墓碑之前拿到的快照仍然有效
	before := reg.snapshot()
	reg.remove(a)
	reg.remove(nil)

	if len(before) != 2 {
		t.Errorf("Expected old snapshot to keep 2 slots, got %d", len(before))
	}
	if reg.Len() != 2 {
		t.Errorf("Expected tombstoned slot to stay, got %d slots", reg.Len())
	}
	live := reg.Live()
	if len(live) != 1 || live[0] != b.sched {
		t.Errorf("Expected only b to be live")
	}

	c := reg.add(&Scheduler{})
	if c.id <= b.id {
		t.Errorf("Expected monotonically increasing ids, got %d after %d", c.id, b.id)
	}
}

func TestStateNames(t *testing.T) {
	cases := map[State]string{
		StateNew:      "new",
		StateReady:    "ready",
		StateRunning:  "running",
		StateWaiting:  "waiting",
		StateSleeping: "sleeping",
		StateDone:     "done",
		StateCanceled: "canceled",
		StateLazy:     "lazy",
		StateCrashed:  "crashed",
		State(42):     "unknown",
	}
	for st, want := range cases {
		if st.String() != want {
			t.Errorf("Expected %q, got %q", want, st.String())
		}
	}

	for _, st := range []State{StateDone, StateCanceled, StateCrashed} {
		if !st.Terminal() {
			t.Errorf("Expected %s to be terminal", st)
		}
	}
	for _, st := range []State{StateNew, StateReady, StateRunning, StateWaiting, StateSleeping, StateLazy} {
		if st.Terminal() {
			t.Errorf("Expected %s not to be terminal", st)
		}
	}
}
