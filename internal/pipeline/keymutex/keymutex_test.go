package keymutex_test

import (
	"sync"
	"testing"
	"time"

	"github.com/autopiloot/corepipe/internal/pipeline/keymutex"
)

func TestLockSerializesSameKey(t *testing.T) {
	m := keymutex.New()
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("vidA")
			defer m.Unlock("vidA")
			cur := counter
			time.Sleep(time.Microsecond)
			counter = cur + 1
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected serialized increments to reach 50, got %d", counter)
	}
}

func TestDifferentKeysDoNotBlockEachOther(t *testing.T) {
	m := keymutex.New()
	done := make(chan struct{})

	m.Lock("vidA")
	go func() {
		m.Lock("vidB")
		m.Unlock("vidB")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected lock on a different key to proceed without blocking")
	}
	m.Unlock("vidA")
}

func TestWithRunsUnderLock(t *testing.T) {
	m := keymutex.New()
	ran := false
	keymutex.With(m, "vidA", func() { ran = true })
	if !ran {
		t.Fatal("expected With to run the callback")
	}
}
