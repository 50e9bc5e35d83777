package cronrunner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerRunsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx)
	var runs atomic.Int32
	_, err := r.Add("tick", "* * * * * *", func(context.Context) { runs.Add(1) })
	require.NoError(t, err)

	r.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	r.Stop()
}

func TestRunnerRecoversPanics(t *testing.T) {
	r := New(context.Background())
	var runs atomic.Int32
	_, err := r.Add("boom", "* * * * * *", func(context.Context) {
		runs.Add(1)
		panic("boom")
	})
	require.NoError(t, err)

	r.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 4*time.Second, 50*time.Millisecond)
	r.Stop()
}

func TestRunnerRejectsBadSpec(t *testing.T) {
	_, err := New(context.Background()).Add("bad", "*/5 * * * *", func(context.Context) {})
	assert.Error(t, err, "five-field specs are not accepted with seconds enabled")
}
