package payload

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shardwave/shardwave/pkg/apierrors"
	"github.com/shardwave/shardwave/pkg/model"
	"github.com/shardwave/shardwave/pkg/posting"
)

// FieldKind is one of the indexed field kinds spec.md §3 enumerates.
type FieldKind int

const (
	FieldKeyword FieldKind = iota
	FieldInteger
	FieldFloat
	FieldBool
	FieldGeo
	FieldFullText
	FieldDatetime
)

// FieldSchema describes one created field index.
type FieldSchema struct {
	Path string
	Kind FieldKind
}

// GeoPoint is a latitude/longitude pair, the geo-point field kind's value
// shape.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// geoCellPrecision controls how finely geo-points are bucketed into
// posting tokens: a simple fixed-precision grid, coarse enough to keep
// posting lists usable. Cell matching is approximate; no exact distance
// check is applied on top of it in this module.
const geoCellPrecision = 1000.0 // ~0.001 degree cells

// FieldIndex indexes one payload path, tokenizing values per Kind and
// delegating storage/intersection/cardinality to a posting.Index. Once
// Freeze is called — a segment sealing per spec.md §4.3 — index is
// discarded in favor of its one-shot compressed form, and further mutation
// is rejected.
type FieldIndex struct {
	Schema     FieldSchema
	index      *posting.Index
	compressed *posting.CompressedIndex
}

// NewFieldIndex creates an empty index for path under kind.
func NewFieldIndex(path string, kind FieldKind, pointCount int) *FieldIndex {
	return &FieldIndex{Schema: FieldSchema{Path: path, Kind: kind}, index: posting.NewIndex(pointCount)}
}

// SetPointCount forwards to whichever posting form is currently active.
func (fi *FieldIndex) SetPointCount(n int) {
	if fi.compressed != nil {
		fi.compressed.SetPointCount(n)
		return
	}
	fi.index.SetPointCount(n)
}

// Frozen reports whether Freeze has already converted this index to its
// immutable compressed form.
func (fi *FieldIndex) Frozen() bool { return fi.compressed != nil }

// Freeze converts the mutable posting index into its immutable,
// delta+bit-packed compressed form in one pass (spec.md §4.1, §4.3), after
// which Index/Remove reject further writes and RemoveAll is a no-op.
// Idempotent.
func (fi *FieldIndex) Freeze() {
	if fi.compressed != nil {
		return
	}
	fi.compressed = fi.index.Compress()
	fi.index = nil
}

// tokenize converts a raw extracted value into the posting-list token(s) it
// should be filed under.
func (fi *FieldIndex) tokenize(v interface{}) ([]string, error) {
	switch fi.Schema.Kind {
	case FieldKeyword:
		s, ok := v.(string)
		if !ok {
			return nil, nil
		}
		return []string{"kw:" + s}, nil
	case FieldBool:
		b, ok := v.(bool)
		if !ok {
			return nil, nil
		}
		return []string{fmt.Sprintf("bool:%t", b)}, nil
	case FieldInteger:
		n, ok := asInt64(v)
		if !ok {
			return nil, nil
		}
		return []string{fmt.Sprintf("int:%020d", n+math.MaxInt32)}, nil
	case FieldFloat:
		f, ok := asFloat64(v)
		if !ok {
			return nil, nil
		}
		return []string{fmt.Sprintf("float:%020.6f", f)}, nil
	case FieldDatetime:
		s, ok := v.(string)
		if !ok {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, nil
		}
		return []string{fmt.Sprintf("dt:%020d", t.UnixNano())}, nil
	case FieldGeo:
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, nil
		}
		lat, latOK := asFloat64(m["lat"])
		lon, lonOK := asFloat64(m["lon"])
		if !latOK || !lonOK {
			return nil, nil
		}
		return []string{geoCellToken(lat, lon)}, nil
	case FieldFullText:
		s, ok := v.(string)
		if !ok {
			return nil, nil
		}
		words := strings.Fields(strings.ToLower(s))
		toks := make([]string, 0, len(words))
		for _, w := range words {
			toks = append(toks, "ft:"+w)
		}
		return toks, nil
	default:
		return nil, fmt.Errorf("unknown field kind %d", fi.Schema.Kind)
	}
}

func geoCellToken(lat, lon float64) string {
	la := int64(math.Round(lat * geoCellPrecision))
	lo := int64(math.Round(lon * geoCellPrecision))
	return fmt.Sprintf("geo:%d:%d", la, lo)
}

func asInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func asFloat64(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Index indexes payload p's values at Schema.Path under id, fanning out
// over GetPath's array results. Returns apierrors.ErrPreconditionFailed if
// the field index has been frozen (spec.md §4.1's immutable-form write
// rejection).
func (fi *FieldIndex) Index(id model.InternalID, p model.Payload) error {
	if fi.compressed != nil {
		return apierrors.PreconditionFailedf("field index %q is sealed and immutable", fi.Schema.Path)
	}
	values := model.GetPath(p, fi.Schema.Path)
	for _, v := range values {
		toks, err := fi.tokenize(v)
		if err != nil {
			return err
		}
		for _, tok := range toks {
			fi.index.AddDocument(tok, id)
		}
	}
	return nil
}

// Remove removes id from every posting this field currently has it under.
// Since tokenization is cheap to recompute, the caller re-derives the
// payload's tokens for this path and passes them; when the payload is
// already gone, use RemoveAll. Returns apierrors.ErrPreconditionFailed once
// frozen.
func (fi *FieldIndex) Remove(id model.InternalID, p model.Payload) error {
	if fi.compressed != nil {
		return apierrors.PreconditionFailedf("field index %q is sealed and immutable", fi.Schema.Path)
	}
	values := model.GetPath(p, fi.Schema.Path)
	var toks []string
	for _, v := range values {
		ts, err := fi.tokenize(v)
		if err != nil {
			return err
		}
		toks = append(toks, ts...)
	}
	fi.index.RemoveDocumentTokens(toks, id)
	return nil
}

// RemoveAll deletes id from the index regardless of value, used when the
// original payload is no longer available (e.g. bulk delete). A no-op
// (rather than an error) once frozen, since a sealed segment's deletes are
// tracked as tombstones one layer up, not by rewriting the posting index.
func (fi *FieldIndex) RemoveAll(id model.InternalID) {
	if fi.compressed != nil {
		return
	}
	fi.index.RemoveDocument(id)
}

// filter dispatches the AND intersection to whichever posting form is
// currently active — the mutable index, or its sealed compressed form.
func (fi *FieldIndex) filter(tokens []string) []model.InternalID {
	if fi.compressed != nil {
		return fi.compressed.Filter(tokens)
	}
	return fi.index.Filter(tokens)
}

// MatchKeyword returns the ids whose keyword value at this field equals s.
func (fi *FieldIndex) MatchKeyword(s string) []model.InternalID {
	return fi.filter([]string{"kw:" + s})
}

// MatchTokens filters by already-tokenized values (e.g. produced by a
// caller that pre-tokenizes a raw filter value via the same convention
// tokenize uses), used by pkg/segment.ReadFiltered.
func (fi *FieldIndex) MatchTokens(tokens []string) []model.InternalID {
	return fi.filter(tokens)
}

// MatchValue filters by an exact tokenized value, for
// bool/int/float/datetime equality.
func (fi *FieldIndex) MatchValue(v interface{}) ([]model.InternalID, error) {
	toks, err := fi.tokenize(v)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, nil
	}
	return fi.filter(toks[:1]), nil
}

// MatchFullText returns ids containing every word in query (an implicit
// AND over tokenized query words).
func (fi *FieldIndex) MatchFullText(query string) []model.InternalID {
	words := strings.Fields(strings.ToLower(query))
	toks := make([]string, 0, len(words))
	for _, w := range words {
		toks = append(toks, "ft:"+w)
	}
	return fi.filter(toks)
}

// MatchGeoRadius returns ids located in the grid cells within radiusCells
// of center's cell; this is an approximate match over the posting index,
// with no exact distance check.
func (fi *FieldIndex) MatchGeoRadius(center GeoPoint, radiusCells int) []model.InternalID {
	var out []model.InternalID
	seen := make(map[model.InternalID]bool)
	baseLa := int64(math.Round(center.Lat * geoCellPrecision))
	baseLo := int64(math.Round(center.Lon * geoCellPrecision))
	for dla := -radiusCells; dla <= radiusCells; dla++ {
		for dlo := -radiusCells; dlo <= radiusCells; dlo++ {
			tok := fmt.Sprintf("geo:%d:%d", baseLa+int64(dla), baseLo+int64(dlo))
			for _, id := range fi.filter([]string{tok}) {
				if !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
		}
	}
	return out
}

// EstimateCardinality forwards to whichever posting form is currently
// active for the already-tokenized values (used by the strategy selector,
// spec.md §4.1).
func (fi *FieldIndex) EstimateCardinality(tokens []string) posting.Cardinality {
	if fi.compressed != nil {
		return fi.compressed.EstimateCardinality(tokens)
	}
	return fi.index.EstimateCardinality(tokens)
}
