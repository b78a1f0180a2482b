package common

import (
	"testing"

	"github.com/fhenode/fhenode/hashutil"
	"github.com/stretchr/testify/require"
)

func TestKnownSetAddAndContains(t *testing.T) {
	s, err := NewKnownSet(2)
	require.NoError(t, err)

	h := hashutil.Sum([]byte("a"))
	require.False(t, s.Contains(h))
	s.Add(h)
	require.True(t, s.Contains(h))
	require.Equal(t, 1, s.Len())
}

func TestKnownSetEvictsLeastRecentlyUsed(t *testing.T) {
	s, err := NewKnownSet(2)
	require.NoError(t, err)

	a := hashutil.Sum([]byte("a"))
	b := hashutil.Sum([]byte("b"))
	c := hashutil.Sum([]byte("c"))

	s.Add(a)
	s.Add(b)
	s.Add(c) // evicts a, the cache is bounded to 2 entries
	require.False(t, s.Contains(a))
	require.True(t, s.Contains(b))
	require.True(t, s.Contains(c))
	require.Equal(t, 2, s.Len())
}
