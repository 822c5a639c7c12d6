package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeEngine struct {
	closed bool
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

func TestGetOrLoadSingleFlight(t *testing.T) {
	var loads int64
	r := New(func(key string) (Engine, error) {
		atomic.AddInt64(&loads, 1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		return &fakeEngine{}, nil
	})

	const callers = 8
	handles := make([]*Handle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.GetOrLoad("ocr:en")
			if err != nil {
				t.Errorf("GetOrLoad failed: %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt64(&loads); n != 1 {
		t.Errorf("expected exactly 1 load, got %d", n)
	}
	for i := 1; i < callers; i++ {
		if handles[i] != handles[0] {
			t.Errorf("caller %d received a different handle", i)
		}
	}
}

func TestGetOrLoadDistinctKeys(t *testing.T) {
	r := New(func(key string) (Engine, error) {
		return &fakeEngine{}, nil
	})
	a, err := r.GetOrLoad("ocr:en")
	if err != nil {
		t.Fatalf("GetOrLoad failed: %v", err)
	}
	b, err := r.GetOrLoad("ocr:ja")
	if err != nil {
		t.Fatalf("GetOrLoad failed: %v", err)
	}
	if a == b {
		t.Error("distinct keys returned the same handle")
	}
	if a.Key() != "ocr:en" || b.Key() != "ocr:ja" {
		t.Errorf("handle keys wrong: %q, %q", a.Key(), b.Key())
	}
}

func TestGetOrLoadFailure(t *testing.T) {
	boom := errors.New("no traineddata")
	calls := 0
	r := New(func(key string) (Engine, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return &fakeEngine{}, nil
	})

	_, err := r.GetOrLoad("ocr:ja")
	var mu *ModelUnavailableError
	if !errors.As(err, &mu) {
		t.Fatalf("expected ModelUnavailableError, got %v", err)
	}
	if mu.Key != "ocr:ja" || !errors.Is(err, boom) {
		t.Errorf("error details wrong: %v", mu)
	}

	// Failed loads are not cached; a retry succeeds.
	if _, err := r.GetOrLoad("ocr:ja"); err != nil {
		t.Errorf("retry after failed load should succeed, got %v", err)
	}
}

func TestEvictClosesAndReloads(t *testing.T) {
	var loads int
	var last *fakeEngine
	r := New(func(key string) (Engine, error) {
		loads++
		last = &fakeEngine{}
		return last, nil
	})

	if _, err := r.GetOrLoad("caption"); err != nil {
		t.Fatalf("GetOrLoad failed: %v", err)
	}
	first := last
	if err := r.Evict("caption"); err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if !first.closed {
		t.Error("evicted engine was not closed")
	}

	if _, err := r.GetOrLoad("caption"); err != nil {
		t.Fatalf("GetOrLoad after evict failed: %v", err)
	}
	if loads != 2 {
		t.Errorf("expected reload after evict, loads=%d", loads)
	}
}

func TestEvictDuringLoadDoesNotResurrect(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var loads int64
	var mu sync.Mutex
	var engines []*fakeEngine

	r := New(func(key string) (Engine, error) {
		n := atomic.AddInt64(&loads, 1)
		e := &fakeEngine{}
		mu.Lock()
		engines = append(engines, e)
		mu.Unlock()
		if n == 1 {
			close(entered)
			<-release
		}
		return e, nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := r.GetOrLoad("ocr:en")
		errCh <- err
	}()

	// Evict while the first load is still inside the loader, then let the
	// load finish.
	<-entered
	if err := r.Evict("ocr:en"); err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	close(release)

	err := <-errCh
	var muErr *ModelUnavailableError
	if !errors.As(err, &muErr) {
		t.Fatalf("load finishing after evict should report unavailable, got %v", err)
	}

	mu.Lock()
	first := engines[0]
	mu.Unlock()
	if !first.closed {
		t.Error("engine loaded across an eviction was not closed")
	}

	// The key is genuinely gone: the next request performs a fresh load.
	if _, err := r.GetOrLoad("ocr:en"); err != nil {
		t.Fatalf("GetOrLoad after evict failed: %v", err)
	}
	if n := atomic.LoadInt64(&loads); n != 2 {
		t.Errorf("expected a fresh load after evict, loads=%d", n)
	}
}

func TestHandleDoSerializes(t *testing.T) {
	r := New(func(key string) (Engine, error) {
		return &fakeEngine{}, nil
	})
	h, err := r.GetOrLoad("caption")
	if err != nil {
		t.Fatalf("GetOrLoad failed: %v", err)
	}

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Do(func(Engine) error {
				n := atomic.AddInt32(&active, 1)
				if n > atomic.LoadInt32(&maxActive) {
					atomic.StoreInt32(&maxActive, n)
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxActive > 1 {
		t.Errorf("inference calls overlapped: max concurrent = %d", maxActive)
	}
}
