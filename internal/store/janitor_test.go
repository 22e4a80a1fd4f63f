package store

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingDeleter struct {
	calls atomic.Int32
}

func (d *countingDeleter) DeleteExpired(ctx context.Context) (int, error) {
	d.calls.Add(1)
	return 1, nil
}

func TestJanitor(t *testing.T) {
	target := &countingDeleter{}
	j := NewJanitor(context.Background(), target, 5*time.Millisecond)

	require.Eventually(t, func() bool { return target.calls.Load() >= 2 }, time.Second, time.Millisecond)

	j.Stop()
	after := target.calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, target.calls.Load())
}
