package common

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vortexdb/vortex/errwrap"
)

func TestCountDownFutureCompletes(t *testing.T) {
	ch := make(chan error, 1)
	fut := NewCountDownFuture(3, func(err error) {
		ch <- err
	})
	fut.CountDown(nil)
	fut.CountDown(nil)
	require.Len(t, ch, 0)
	fut.CountDown(nil)
	require.NoError(t, <-ch)
}

func TestCountDownFutureFirstErrorWins(t *testing.T) {
	ch := make(chan error, 2)
	fut := NewCountDownFuture(3, func(err error) {
		ch <- err
	})
	first := errwrap.New("first")
	fut.CountDown(first)
	fut.CountDown(errwrap.New("second"))
	require.Equal(t, first, <-ch)
	require.Len(t, ch, 0)
}

func TestCountDownFutureConcurrent(t *testing.T) {
	numParties := 100
	ch := make(chan error, 1)
	fut := NewCountDownFuture(numParties, func(err error) {
		ch <- err
	})
	var wg sync.WaitGroup
	for i := 0; i < numParties; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fut.CountDown(nil)
		}()
	}
	wg.Wait()
	require.NoError(t, <-ch)
}
