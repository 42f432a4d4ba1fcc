package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufLogger struct{ lines []string }

func (b *bufLogger) Printf(format string, v ...any) { b.lines = append(b.lines, fmt.Sprintf(format, v...)) }

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestLoad_ChunkCountsAndOrder(t *testing.T) {
	t.Parallel()
	cases := []struct {
		n, size, chunks int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{25, 10, 3},
		{10000, 10000, 1},
		{20001, 10000, 3},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprintf("n=%d/size=%d", tc.n, tc.size), func(t *testing.T) {
			t.Parallel()
			var got []int
			calls := 0
			st, err := Load(context.Background(), "t", seq(tc.n), tc.size, func(ctx context.Context, chunk []int) error {
				calls++
				require.LessOrEqual(t, len(chunk), tc.size)
				got = append(got, chunk...)
				return nil
			}, &bufLogger{})
			require.NoError(t, err)
			assert.Equal(t, tc.chunks, calls)
			assert.Equal(t, tc.chunks, st.Chunks)
			assert.Equal(t, tc.chunks, Chunks(tc.n, tc.size))
			assert.Equal(t, tc.n, st.Rows)
			if tc.n > 0 {
				assert.Equal(t, seq(tc.n), got)
			}
		})
	}
}

func TestLoad_FailsFastWithChunkNumber(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	calls := 0
	st, err := Load(context.Background(), "products", seq(30), 10, func(ctx context.Context, chunk []int) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	}, &bufLogger{})

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "chunk 2/3")
	assert.Equal(t, 2, calls, "no chunk after the failing one")
	assert.Equal(t, 10, st.Rows)
}

func TestLoad_LogsSummary(t *testing.T) {
	t.Parallel()
	lg := &bufLogger{}
	_, err := Load(context.Background(), "brands", seq(5), 2, func(context.Context, []int) error { return nil }, lg)
	require.NoError(t, err)
	require.Len(t, lg.lines, 1)
	assert.True(t, strings.HasPrefix(lg.lines[0], "stage=load table=brands rows=5 chunks=3 duration="), lg.lines[0])
}

func TestLoad_RejectsBadArguments(t *testing.T) {
	t.Parallel()
	_, err := Load(context.Background(), "x", seq(1), 0, func(context.Context, []int) error { return nil }, nil)
	require.Error(t, err)

	_, err = Load[int](context.Background(), "x", seq(1), 1, nil, nil)
	require.Error(t, err)
}

func TestLoad_HonorsCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Load(ctx, "x", seq(5), 1, func(context.Context, []int) error {
		calls++
		cancel()
		return nil
	}, &bufLogger{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
