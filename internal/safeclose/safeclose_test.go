package safeclose

import (
	"errors"
	"testing"
	"time"
)

func TestCloseWaitBlocksUntilAttachedGoroutinesFinish(t *testing.T) {
	sc := New()
	started := make(chan struct{})
	release := make(chan struct{})
	returned := make(chan struct{})

	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		close(started)
		<-closeSignal
		<-release
		done()
	})

	<-started
	sc.Done()
	go func() {
		sc.CloseWait()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("CloseWait returned before the attached goroutine finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for CloseWait to return after the attached goroutine finished")
	}
}

func TestAttachAfterCloseIsNoop(t *testing.T) {
	sc := New()
	sc.SendCloseSignal(nil)

	ran := false
	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		ran = true
		done()
	})

	sc.Done()
	sc.CloseWait()
	if ran {
		t.Error("expected Attach after close to never run f")
	}
}

func TestErrRetainsFirstError(t *testing.T) {
	sc := New()
	first := errors.New("first")
	second := errors.New("second")

	sc.SendCloseSignal(first)
	sc.SendCloseSignal(second)

	if sc.Err() != first {
		t.Errorf("expected first error retained, got %v", sc.Err())
	}
}

func TestDoneIsIdempotent(t *testing.T) {
	sc := New()
	sc.Done()
	sc.Done() // must not panic on double close
}
