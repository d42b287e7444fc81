package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scalesocket/scalesocket/internal/types"
)

func TestValidSize(t *testing.T) {
	require.True(t, ValidSize(1))
	require.True(t, ValidSize(8))
	require.True(t, ValidSize(64))
	require.False(t, ValidSize(2))
	require.False(t, ValidSize(0))
}

func TestParsePolicy(t *testing.T) {
	p, ok := ParsePolicy("")
	require.True(t, ok)
	require.Equal(t, PolicyAll, p)

	p, ok = ParsePolicy("tagged")
	require.True(t, ok)
	require.Equal(t, PolicyTagged, p)

	_, ok = ParsePolicy("bogus")
	require.False(t, ok)
}

func TestBufferFIFOOrderAndWrap(t *testing.T) {
	b := New(1, PolicyAll)
	b.Write(types.BroadcastHeader(), []byte("a"))
	b.Write(types.BroadcastHeader(), []byte("b"))

	got := b.Snapshot()
	require.Len(t, got, 1)
	require.Equal(t, "b", string(got[0].Payload))
}

func TestBufferRetainsFIFOOrderUpToSize(t *testing.T) {
	b := New(8, PolicyAll)
	for _, s := range []string{"foo", "bar", "baz"} {
		b.Write(types.BroadcastHeader(), []byte(s))
	}
	got := b.Snapshot()
	require.Len(t, got, 3)
	require.Equal(t, "foo", string(got[0].Payload))
	require.Equal(t, "bar", string(got[1].Payload))
	require.Equal(t, "baz", string(got[2].Payload))
	for _, m := range got {
		require.True(t, m.Header.Broadcast())
	}
}

func TestBufferTaggedPolicyOnlyAdmitsTagged(t *testing.T) {
	b := New(8, PolicyTagged)
	b.Write(types.Header{}, []byte("untagged"))
	b.Write(types.Header{IsCache: true}, []byte("tagged"))

	got := b.Snapshot()
	require.Len(t, got, 1)
	require.Equal(t, "tagged", string(got[0].Payload))
}

func TestBufferNeverAdmitsMeta(t *testing.T) {
	b := New(8, PolicyAll)
	b.Write(types.Header{IsMeta: true}, []byte("meta"))
	require.Empty(t, b.Snapshot())
}

func TestNewPanicsOnInvalidSize(t *testing.T) {
	require.Panics(t, func() { New(3, PolicyAll) })
}
