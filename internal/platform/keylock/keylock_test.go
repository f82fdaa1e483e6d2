package keylock

import (
	"sync"
	"testing"
)

func TestLocker_TryLockRejectsHeldKey(t *testing.T) {
	l := New()
	unlock, ok := l.TryLock("owner-1")
	if !ok {
		t.Fatal("first TryLock should succeed")
	}
	if _, ok := l.TryLock("owner-1"); ok {
		t.Error("second TryLock on a held key should fail")
	}
	other, ok := l.TryLock("owner-2")
	if !ok {
		t.Fatal("TryLock on a distinct key should succeed")
	}
	other()
	unlock()
	if n := l.Len(); n != 0 {
		t.Errorf("Len = %d after release, want 0", n)
	}
	again, ok := l.TryLock("owner-1")
	if !ok {
		t.Fatal("TryLock after release should succeed")
	}
	again()
}

func TestLocker_LockSerializes(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("owner")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if n := l.Len(); n != 0 {
		t.Errorf("Len = %d after all releases, want 0", n)
	}
}
