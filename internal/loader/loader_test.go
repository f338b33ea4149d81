package loader

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
)

func countingBatch(calls *int32, seen *[][]int) BatchFunc[int, string] {
	var mu sync.Mutex
	return func(ctx context.Context, keys []int) (map[int]string, error) {
		atomic.AddInt32(calls, 1)
		mu.Lock()
		cp := append([]int(nil), keys...)
		sort.Ints(cp)
		*seen = append(*seen, cp)
		mu.Unlock()

		out := make(map[int]string)
		for _, k := range keys {
			if k%2 == 0 {
				out[k] = "even"
			}
		}
		return out, nil
	}
}

func TestLoader_CoalescesKeys(t *testing.T) {
	var calls int32
	var seen [][]int
	l := New(countingBatch(&calls, &seen))
	ctx := context.Background()

	var thunks []Thunk[int, string]
	for _, k := range []int{4, 1, 2, 4, 2} {
		thunks = append(thunks, l.Load(k))
	}

	if err := l.Dispatch(ctx); err != nil {
		t.Fatal(err)
	}

	for i, th := range thunks {
		val, found, err := th.Get(ctx)
		if err != nil {
			t.Fatalf("thunk %d: %v", i, err)
		}
		k := []int{4, 1, 2, 4, 2}[i]
		if wantFound := k%2 == 0; found != wantFound {
			t.Errorf("key %d: found = %v, want %v", k, found, wantFound)
		}
		if found && val != "even" {
			t.Errorf("key %d: val = %q", k, val)
		}
	}

	if calls != 1 {
		t.Errorf("expected 1 batch call, got %d", calls)
	}
	if len(seen) != 1 || len(seen[0]) != 3 {
		t.Errorf("expected one batch of 3 distinct keys, got %v", seen)
	}

	// memoized keys do not trigger another batch
	if _, _, err := l.Load(1).Get(ctx); err != nil {
		t.Fatal(err)
	}
	if calls != 1 || l.Batches() != 1 {
		t.Errorf("cached key caused a batch: calls=%d batches=%d", calls, l.Batches())
	}
}

func TestLoader_GetDispatchesOnDemand(t *testing.T) {
	var calls int32
	var seen [][]int
	l := New(countingBatch(&calls, &seen))
	ctx := context.Background()

	a := l.Load(10)
	b := l.Load(11)

	if _, found, err := b.Get(ctx); err != nil || found {
		t.Errorf("b.Get() = (%v, %v)", found, err)
	}
	if _, found, err := a.Get(ctx); err != nil || !found {
		t.Errorf("a.Get() = (%v, %v)", found, err)
	}
	if calls != 1 {
		t.Errorf("expected both keys in one batch, got %d calls", calls)
	}
}

func TestLoader_ConcurrentGet(t *testing.T) {
	var calls int32
	var seen [][]int
	l := New(countingBatch(&calls, &seen))
	ctx := context.Background()

	var thunks []Thunk[int, string]
	for k := 0; k < 20; k++ {
		thunks = append(thunks, l.Load(k))
	}

	var wg sync.WaitGroup
	for _, th := range thunks {
		wg.Add(1)
		go func(th Thunk[int, string]) {
			defer wg.Done()
			if _, _, err := th.Get(ctx); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}(th)
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("expected 1 batch call, got %d", calls)
	}
}

func TestLoader_Error(t *testing.T) {
	boom := errors.New("boom")
	var calls int32
	l := New(func(ctx context.Context, keys []int) (map[int]string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, boom
		}
		return map[int]string{1: "one"}, nil
	})
	ctx := context.Background()

	th := l.Load(1)
	if err := l.Dispatch(ctx); !errors.Is(err, boom) {
		t.Fatalf("Dispatch() error = %v, want boom", err)
	}
	if _, _, err := th.Get(ctx); !errors.Is(err, boom) {
		t.Errorf("Get() error = %v, want boom", err)
	}

	// a failed key is fetched again on the next load
	val, found, err := l.Load(1).Get(ctx)
	if err != nil || !found || val != "one" {
		t.Errorf("retry Get() = (%q, %v, %v)", val, found, err)
	}
}

func TestLoader_EmptyDispatch(t *testing.T) {
	var calls int32
	var seen [][]int
	l := New(countingBatch(&calls, &seen))
	if err := l.Dispatch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 0 || l.Batches() != 0 {
		t.Errorf("empty dispatch called batch %d times", calls)
	}
}

func TestLoader_Clear(t *testing.T) {
	var calls int32
	var seen [][]int
	l := New(countingBatch(&calls, &seen))
	ctx := context.Background()

	if _, _, err := l.Load(2).Get(ctx); err != nil {
		t.Fatal(err)
	}
	pending := l.Load(4)
	l.Clear(4)
	l.Clear(2)

	if _, _, err := l.Load(2).Get(ctx); err != nil {
		t.Fatal(err)
	}
	if _, found, err := pending.Get(ctx); err != nil || !found {
		t.Errorf("pending key lost by Clear: found=%v err=%v", found, err)
	}
	if calls != 2 {
		t.Errorf("expected cleared key to be fetched again in a second batch, got %d calls", calls)
	}
}
