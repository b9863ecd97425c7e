package cart

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(names ...string) []LineItem {
	out := make([]LineItem, 0, len(names))
	for _, name := range names {
		out = append(out, LineItem{Name: name})
	}
	return out
}

func TestStore_AddItemKeepsOrderAndDuplicates(t *testing.T) {
	s := New(7)
	for _, item := range items("apple", "pear", "apple") {
		require.NoError(t, s.AddItem(item))
	}

	assert.Equal(t, items("apple", "pear", "apple"), s.Snapshot())
	assert.True(t, s.Dirty())
	assert.Equal(t, int64(7), s.ID())
}

func TestStore_AddItemRejectsUnnamed(t *testing.T) {
	s := New(1)

	for _, name := range []string{"", "   "} {
		err := s.AddItem(LineItem{Name: name})
		require.ErrorIs(t, err, ErrInvalidArgument)
		assert.True(t, commonerrors.Any(err, commonerrors.ErrInvalid))
	}
	assert.True(t, s.IsEmpty())
	assert.False(t, s.Dirty())
}

func TestStore_RemoveItemRemovesFirstMatch(t *testing.T) {
	s := Restore(1, items("apple", "pear", "apple", "fig"))

	require.NoError(t, s.RemoveItem(LineItem{Name: "apple"}))

	assert.Equal(t, items("pear", "apple", "fig"), s.Snapshot())
	assert.True(t, s.Dirty())
}

func TestStore_RemoveMissingItemIsNotFound(t *testing.T) {
	s := Restore(1, items("apple"))

	err := s.RemoveItem(LineItem{Name: "kiwi"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrItemNotFound))
	assert.True(t, commonerrors.Any(err, commonerrors.ErrNotFound))
	assert.Equal(t, items("apple"), s.Snapshot())
	assert.False(t, s.Dirty())
}

func TestStore_SnapshotIsIndependentCopy(t *testing.T) {
	s := Restore(1, items("apple"))

	snap := s.Snapshot()
	snap[0].Name = "changed"
	require.NoError(t, s.AddItem(LineItem{Name: "pear"}))

	assert.Equal(t, items("changed"), snap)
	assert.Equal(t, items("apple", "pear"), s.Snapshot())
}

func TestStore_RestoreCopiesInput(t *testing.T) {
	in := items("apple")
	s := Restore(1, in)
	in[0].Name = "changed"

	assert.Equal(t, items("apple"), s.Snapshot())
	assert.False(t, s.Dirty())
}

func TestStore_EmptySnapshotIsNotNil(t *testing.T) {
	s := New(1)
	assert.NotNil(t, s.Snapshot())
	assert.Empty(t, s.Snapshot())
}

func TestStore_ClearMarksDirtyOnlyWhenItemsRemoved(t *testing.T) {
	empty := New(1)
	empty.Clear()
	assert.False(t, empty.Dirty())

	full := Restore(2, items("apple", "pear"))
	full.Clear()
	assert.True(t, full.IsEmpty())
	assert.True(t, full.Dirty())

	full.MarkClean()
	assert.False(t, full.Dirty())
}

// Random add/remove sequences must match a reference multiset that removes
// the first matching name and otherwise keeps add order.
func TestStore_RandomSequencesMatchReference(t *testing.T) {
	names := []string{"a", "b", "c"}
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		s := New(int64(round))
		var want []LineItem
		for op := 0; op < 30; op++ {
			item := LineItem{Name: names[rng.Intn(len(names))]}
			if rng.Intn(3) == 0 {
				err := s.RemoveItem(item)
				idx := -1
				for i, existing := range want {
					if existing == item {
						idx = i
						break
					}
				}
				if idx < 0 {
					require.ErrorIs(t, err, ErrItemNotFound)
					continue
				}
				require.NoError(t, err)
				want = append(want[:idx], want[idx+1:]...)
				continue
			}
			require.NoError(t, s.AddItem(item))
			want = append(want, item)
		}
		if want == nil {
			want = []LineItem{}
		}
		require.Equal(t, want, s.Snapshot(), "round %d", round)
	}
}

func TestDigest_TracksOrderedContents(t *testing.T) {
	assert.Equal(t, Digest(items("Book", "Pen")), Digest(items("Book", "Pen")))
	assert.NotEqual(t, Digest(items("Book", "Pen")), Digest(items("Pen", "Book")))
	assert.NotEqual(t, Digest(items("ab", "c")), Digest(items("a", "bc")))
	assert.NotEqual(t, Digest(items("Book")), Digest(nil))
}
