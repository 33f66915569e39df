package race

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.viam.com/test"
)

func TestDoOperationWins(t *testing.T) {
	v, err := Do(context.Background(), nil, 200*time.Millisecond, func() (int, error) {
		return 42, nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 42)
}

func TestDoOperationError(t *testing.T) {
	boom := errors.New("crc mismatch")
	_, err := Do(context.Background(), nil, 200*time.Millisecond, func() (int, error) {
		return 0, boom
	})
	test.That(t, err, test.ShouldEqual, boom)
}

func TestDoTimeoutWithinMargin(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Do(context.Background(), nil, 50*time.Millisecond, func() (int, error) {
		<-release
		return 1, nil
	})
	elapsed := time.Since(start)

	test.That(t, errors.Is(err, ErrTimeout), test.ShouldBeTrue)
	test.That(t, elapsed, test.ShouldBeGreaterThanOrEqualTo, 50*time.Millisecond)
	test.That(t, elapsed, test.ShouldBeLessThan, 500*time.Millisecond)
}

func TestDoLateResultDoesNotLeakIntoNextCall(t *testing.T) {
	release := make(chan struct{})

	_, err := Do(context.Background(), nil, 20*time.Millisecond, func() (string, error) {
		<-release
		return "stale", nil
	})
	test.That(t, errors.Is(err, ErrTimeout), test.ShouldBeTrue)
	close(release)

	v, err := Do(context.Background(), nil, 200*time.Millisecond, func() (string, error) {
		return "fresh", nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, "fresh")
}

func TestDoContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, nil, time.Second, func() (int, error) {
		time.Sleep(100 * time.Millisecond)
		return 0, nil
	})
	test.That(t, err, test.ShouldEqual, context.Canceled)
}

func TestDoWithPool(t *testing.T) {
	pool, err := NewPool(1)
	test.That(t, err, test.ShouldBeNil)
	defer pool.Release()

	var calls int32
	v, err := Do(context.Background(), pool, 200*time.Millisecond, func() (int32, error) {
		return atomic.AddInt32(&calls, 1), nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, int32(1))
}

func TestDoPoolOverload(t *testing.T) {
	pool, err := NewPool(1)
	test.That(t, err, test.ShouldBeNil)
	defer pool.Release()

	hold := make(chan struct{})
	defer close(hold)
	_, err = Do(context.Background(), pool, 10*time.Millisecond, func() (int, error) {
		<-hold
		return 0, nil
	})
	test.That(t, errors.Is(err, ErrTimeout), test.ShouldBeTrue)

	// 唯一的 worker 仍被输掉的操作占用
	_, err = Do(context.Background(), pool, 10*time.Millisecond, func() (int, error) {
		return 0, nil
	})
	test.That(t, errors.Is(err, ants.ErrPoolOverload), test.ShouldBeTrue)
}
