package pipeline_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alephccn/pipeline"
)

func TestResultConstructors(t *testing.T) {
	require.True(t, pipeline.Ok().IsOk())

	tr := pipeline.TransientErr("cas timeout", errors.New("dial: i/o timeout"))
	require.True(t, tr.IsTransient())
	require.Contains(t, tr.Error(), "cas timeout")

	pe := pipeline.PermanentErr("bad signature", errors.New("recover failed"))
	require.True(t, pe.IsPermanent())
	require.Contains(t, pe.Error(), "bad signature")
}

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		retries uint32
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{6, 60 * time.Second}, // already past cap at base=1s
		{100, 60 * time.Second},
	}
	for _, c := range cases {
		got := pipeline.Backoff(c.retries, pipeline.ChainRPCBackoffBase, pipeline.ChainRPCBackoffCap)
		require.Equalf(t, c.want, got, "retries=%d", c.retries)
	}
}

func TestBackoffRowSchedule(t *testing.T) {
	require.Equal(t, 5*time.Second, pipeline.Backoff(0, pipeline.RowBackoffBase, pipeline.RowBackoffCap))
	require.Equal(t, time.Hour, pipeline.Backoff(20, pipeline.RowBackoffBase, pipeline.RowBackoffCap))
}
