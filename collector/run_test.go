package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/vkcommunities/api"
	"github.com/brettboylen/vkcommunities/models"
)

func TestRun(t *testing.T) {
	errFatal := errors.New("disk is full")

	tests := []struct {
		name     string
		errs     []error
		sleeps   []time.Duration
		expected error
	}{
		{
			name:     "retries transient failures",
			errs:     []error{fmt.Errorf("%w: timeout", api.ErrTryAgain), nil, api.ErrTryAgain, errFatal},
			sleeps:   []time.Duration{time.Second, time.Second},
			expected: errFatal,
		},
		{
			name:     "stops on unknown error",
			errs:     []error{errFatal},
			sleeps:   nil,
			expected: errFatal,
		},
		{
			name:     "stops on cancellation",
			errs:     []error{nil, context.Canceled},
			sleeps:   nil,
			expected: context.Canceled,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log, _ := test.NewNullLogger()
			clock := &fakeClock{now: time.Now()}
			status := newStatusTracker("test")

			calls := 0
			step := func(ctx context.Context) error {
				err := tc.errs[calls]
				calls++
				return err
			}

			err := run(context.Background(), "test", status, log, clock.Now, clock.Sleep, step)
			assert.ErrorIs(t, err, tc.expected)
			assert.Equal(t, len(tc.errs), calls)
			assert.Equal(t, tc.sleeps, clock.sleeps)
			assert.False(t, status.get().Running)
		})
	}
}

func TestRunCanceledContext(t *testing.T) {
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	clock := &fakeClock{}
	err := run(ctx, "test", newStatusTracker("test"), log, clock.Now, clock.Sleep, func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRunRecordsLastError(t *testing.T) {
	log, _ := test.NewNullLogger()
	status := newStatusTracker("test")
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	errFatal := errors.New("boom")

	_ = run(context.Background(), "test", status, log, clock.Now, clock.Sleep, func(ctx context.Context) error {
		return errFatal
	})

	assert.Equal(t, "boom", status.get().LastError)
	require.NotNil(t, status.get().LastErrorAt)
	assert.Equal(t, clock.now, *status.get().LastErrorAt)
}

func TestStatusJSON(t *testing.T) {
	status := newStatusTracker("walls")

	data, err := json.Marshal(status.get())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "last_error")

	status.setError(errors.New("boom"), time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	data, err = json.Marshal(status.get())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_error":"boom"`)
	assert.Contains(t, string(data), `"last_error_at":"2024-03-01T12:00:00Z"`)
}

func TestQueue(t *testing.T) {
	var q queue
	assert.Nil(t, q.next())

	q.reset([]models.Community{{VKID: 1}, {VKID: 2}, {VKID: 3}})
	assert.Equal(t, 3, q.len())
	assert.Equal(t, int64(1), q.next().VKID)
	assert.Equal(t, []int64{1, 2, 3}, q.ids())

	assert.Equal(t, []int64{1, 2}, communityIDs(q.peek(2)))
	assert.Equal(t, 3, q.len())

	q.drop(2)
	assert.Equal(t, []int64{3}, q.ids())

	c, ok := q.pop()
	assert.True(t, ok)
	assert.Equal(t, int64(3), c.VKID)

	_, ok = q.pop()
	assert.False(t, ok)
	assert.Empty(t, q.peek(5))
}
