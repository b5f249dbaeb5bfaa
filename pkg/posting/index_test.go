package posting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shardwave/shardwave/pkg/model"
)

func TestMutableListAddSortsAndDedupes(t *testing.T) {
	l := NewMutableList()
	l.Add(5)
	l.Add(1)
	l.Add(3)
	l.Add(3)
	assert.Equal(t, []model.InternalID{1, 3, 5}, l.IDs())
}

func TestMutableListRemove(t *testing.T) {
	l := NewMutableList()
	l.Add(1)
	l.Add(2)
	l.Add(3)
	l.Remove(2)
	assert.Equal(t, []model.InternalID{1, 3}, l.IDs())
	assert.False(t, l.Contains(2))
}

func TestCompressRoundTrip(t *testing.T) {
	ids := []model.InternalID{2, 5, 6, 100, 1000}
	l := NewMutableList()
	for _, id := range ids {
		l.Add(id)
	}
	c := l.Compress()
	assert.Equal(t, len(ids), c.Len())

	v := c.NewVisitor()
	var got []model.InternalID
	for {
		id, ok := v.Next()
		if !ok {
			break
		}
		got = append(got, id)
	}
	assert.Equal(t, ids, got)
}

func TestCompressedVisitorAdvance(t *testing.T) {
	ids := []model.InternalID{1, 4, 9, 20, 50}
	l := NewMutableList()
	for _, id := range ids {
		l.Add(id)
	}
	c := l.Compress()
	v := c.NewVisitor()
	id, ok := v.Advance(10)
	assert.True(t, ok)
	assert.Equal(t, model.InternalID(20), id)
}

func TestIndexFilterIntersection(t *testing.T) {
	ix := NewIndex(100)
	for _, id := range []model.InternalID{1, 2, 3, 4, 5} {
		ix.AddDocument("color:red", id)
	}
	for _, id := range []model.InternalID{2, 4, 6} {
		ix.AddDocument("size:m", id)
	}
	got := ix.Filter([]string{"color:red", "size:m"})
	assert.Equal(t, []model.InternalID{2, 4}, got)
}

func TestIndexFilterUnseenTokenIsEmpty(t *testing.T) {
	ix := NewIndex(10)
	ix.AddDocument("color:red", 1)
	assert.Nil(t, ix.Filter([]string{"color:blue"}))
}

func TestEstimateCardinalitySingleToken(t *testing.T) {
	ix := NewIndex(10)
	for _, id := range []model.InternalID{1, 2, 3} {
		ix.AddDocument("tag:a", id)
	}
	c := ix.EstimateCardinality([]string{"tag:a"})
	assert.Equal(t, Cardinality{Min: 3, Exp: 3, Max: 3}, c)
}

func TestEstimateCardinalityMultiToken(t *testing.T) {
	ix := NewIndex(100)
	for _, id := range []model.InternalID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10} {
		ix.AddDocument("a", id)
	}
	for _, id := range []model.InternalID{1, 2, 3, 4, 5} {
		ix.AddDocument("b", id)
	}
	c := ix.EstimateCardinality([]string{"a", "b"})
	assert.Equal(t, 0, c.Min)
	assert.Equal(t, 5, c.Max)
	// exp = 100 * (10/100) * (5/100) = 0.5 -> truncated to 0
	assert.Equal(t, 0, c.Exp)
}

func TestEstimateCardinalityUnseenTokenIsZero(t *testing.T) {
	ix := NewIndex(10)
	ix.AddDocument("a", 1)
	c := ix.EstimateCardinality([]string{"missing"})
	assert.Equal(t, Cardinality{}, c)
}

func TestRemoveDocumentTokensScoped(t *testing.T) {
	ix := NewIndex(10)
	ix.AddDocument("a", 1)
	ix.AddDocument("b", 1)
	ix.RemoveDocumentTokens([]string{"a"}, 1)
	assert.False(t, ix.lists["a"].Contains(1))
	assert.True(t, ix.lists["b"].Contains(1))
}

// TestIndexCompressRoundTripMatchesMutableFilter is spec.md §8's mandatory
// round-trip property: build a mutable index, query it, freeze it into its
// compressed form, and query again — both forms must return identical id
// sets for the same tokens.
func TestIndexCompressRoundTripMatchesMutableFilter(t *testing.T) {
	ix := NewIndex(100)
	for _, id := range []model.InternalID{1, 2, 3, 4, 5, 8, 13} {
		ix.AddDocument("color:red", id)
	}
	for _, id := range []model.InternalID{2, 4, 6, 8, 10} {
		ix.AddDocument("size:m", id)
	}

	wantFilter := ix.Filter([]string{"color:red", "size:m"})
	wantCardinality := ix.EstimateCardinality([]string{"color:red", "size:m"})
	wantSingle := ix.Filter([]string{"color:red"})

	cx := ix.Compress()
	assert.Equal(t, wantFilter, cx.Filter([]string{"color:red", "size:m"}))
	assert.Equal(t, wantCardinality, cx.EstimateCardinality([]string{"color:red", "size:m"}))
	assert.Equal(t, wantSingle, cx.Filter([]string{"color:red"}))

	// An unseen token is empty in both forms.
	assert.Nil(t, cx.Filter([]string{"color:blue"}))
	assert.Equal(t, Cardinality{}, cx.EstimateCardinality([]string{"color:blue"}))
}

func TestCompressedIndexFilterSingleToken(t *testing.T) {
	ix := NewIndex(10)
	for _, id := range []model.InternalID{1, 2, 3} {
		ix.AddDocument("tag:a", id)
	}
	cx := ix.Compress()
	assert.Equal(t, []model.InternalID{1, 2, 3}, cx.Filter([]string{"tag:a"}))
}
