package ringbuffer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBufferOverwrite(t *testing.T) {
	ctx := context.Background()
	r := New[int](4)
	require.Equal(t, uint(2), r.Write(ctx, 1, 2, 3, 4, 5, 6))
	require.Equal(t, uint(4), r.Len(ctx))
	require.Equal(t, []int{3, 4, 5, 6}, r.Peek(ctx, 4))
	require.Nil(t, r.Peek(ctx, 5))
}

func TestRingBufferDiscardAndDeleteLast(t *testing.T) {
	ctx := context.Background()
	r := New[int](8)
	r.Write(ctx, 1, 2, 3, 4, 5, 6)

	require.Equal(t, uint(2), r.Discard(ctx, 2))
	require.Equal(t, []int{3, 4, 5, 6}, r.Peek(ctx, 4))

	require.Equal(t, uint(3), r.DeleteLast(ctx, 3))
	require.Equal(t, []int{3}, r.Peek(ctx, 1))

	require.Equal(t, uint(1), r.DeleteLast(ctx, 100))
	require.True(t, r.IsEmpty(ctx))

	r.Write(ctx, 7, 8)
	require.Equal(t, []int{7, 8}, r.Peek(ctx, 2))
	r.Clear(ctx)
	require.True(t, r.IsEmpty(ctx))
}

func TestRingBufferWindowOverlap(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		window  uint
		overlap uint
	}{
		{window: 10, overlap: 0},
		{window: 10, overlap: 3},
		{window: 10, overlap: 9},
		{window: 48000, overlap: 8000},
	} {
		r := New[int](tc.window * 4)
		total := int(tc.window * 3)
		for i := 0; i < total; i++ {
			r.Write(ctx, i)
		}

		var prev []int
		for {
			win := r.PeekAndDiscard(ctx, tc.window, tc.window-tc.overlap)
			if win == nil {
				break
			}
			require.Len(t, win, int(tc.window))
			if prev != nil {
				require.Equal(t, prev[len(prev)-int(tc.overlap):], win[:tc.overlap])
				require.Equal(t, prev[0]+int(tc.window-tc.overlap), win[0])
			}
			prev = win
		}
		require.NotNil(t, prev)
		require.Less(t, r.Len(ctx), tc.window)
	}
}
