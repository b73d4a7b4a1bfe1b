package flight_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadcondition/streetcrop/internal/flight"
)

func TestGroup_SharesOneCall(t *testing.T) {
	var g flight.Group[int]
	var calls atomic.Int32
	release := make(chan struct{})

	const callers = 4
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := g.Do(context.Background(), "pano@3", func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []int{42, 42, 42, 42}, results)
}

func TestGroup_CancelledStarterDoesNotFailWaiters(t *testing.T) {
	var g flight.Group[string]
	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool

	fn := func(ctx context.Context) (string, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			sawCancel.Store(true)
			return "", ctx.Err()
		}
		return "rendered", nil
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, _, err := g.Do(ctxA, "crop", fn)
		errA <- err
	}()
	<-started

	resB := make(chan string, 1)
	go func() {
		v, _, err := g.Do(context.Background(), "crop", fn)
		assert.NoError(t, err)
		resB <- v
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	assert.Equal(t, "rendered", <-resB)
	assert.False(t, sawCancel.Load(), "shared call must not see the starter's cancellation")
}

func TestGroup_WaiterTimeoutAbandonsResult(t *testing.T) {
	var g flight.Group[int]
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := g.Do(ctx, "slow", func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGroup_PropagatesError(t *testing.T) {
	var g flight.Group[int]
	boom := errors.New("no complete tile grid")

	_, _, err := g.Do(context.Background(), "pano", func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

type ctxKey struct{}

func TestGroup_KeepsContextValues(t *testing.T) {
	var g flight.Group[string]
	ctx := context.WithValue(context.Background(), ctxKey{}, "trace-parent")

	v, _, err := g.Do(ctx, "k", func(ctx context.Context) (string, error) {
		s, _ := ctx.Value(ctxKey{}).(string)
		return s, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "trace-parent", v)
}
