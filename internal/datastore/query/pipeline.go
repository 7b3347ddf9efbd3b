package query

import (
	"slices"

	"github.com/fairground/go-services/internal/datastore"
)

// Run executes pipeline over docs, left to right. Input documents are not
// modified. Stages with an unknown kind pass their input through unchanged.
func Run(docs []datastore.Document, pipeline datastore.Pipeline) []datastore.Document {
	out := slices.Clone(docs)
	for _, st := range pipeline {
		switch st.Kind {
		case datastore.StageMatch:
			out = Select(out, st.Match)
		case datastore.StageGroup:
			out = group(out, st.Group)
		case datastore.StageSort:
			out = sortDocs(out, st.Sort)
		case datastore.StageLimit:
			// the document database rejects $limit <= 0; treat it as "nothing"
			if st.Limit <= 0 {
				out = out[:0]
			} else if len(out) > st.Limit {
				out = out[:st.Limit]
			}
		}
	}
	return out
}

type sum struct {
	i       int64
	f       float64
	isFloat bool
}

func (s *sum) add(v any) {
	n, ok := asNumber(v)
	if !ok {
		return
	}
	if n.isFloat && !s.isFloat {
		s.f, s.isFloat = float64(s.i), true
	}
	if s.isFloat {
		s.f += n.float()
		return
	}
	s.i += n.i
}

func (s *sum) value() any {
	if s.isFloat {
		return s.f
	}
	return s.i
}

type bucket struct {
	key  any
	sums map[string]*sum
}

func group(docs []datastore.Document, spec datastore.GroupSpec) []datastore.Document {
	var buckets []*bucket
	for _, d := range docs {
		var key any
		if spec.By != "" {
			key, _ = Lookup(d, spec.By)
		}
		var b *bucket
		for _, cand := range buckets {
			if Equal(cand.key, key) {
				b = cand
				break
			}
		}
		if b == nil {
			b = &bucket{key: key, sums: make(map[string]*sum, len(spec.Sums))}
			for outField := range spec.Sums {
				b.sums[outField] = &sum{}
			}
			buckets = append(buckets, b)
		}
		for outField, src := range spec.Sums {
			if v, ok := Lookup(d, src); ok {
				b.sums[outField].add(v)
			}
		}
	}

	out := make([]datastore.Document, 0, len(buckets))
	for _, b := range buckets {
		doc := datastore.Document{datastore.GroupKey: b.key}
		for field, s := range b.sums {
			doc[field] = s.value()
		}
		out = append(out, doc)
	}
	return out
}

func sortDocs(docs []datastore.Document, keys []datastore.SortKey) []datastore.Document {
	slices.SortStableFunc(docs, func(a, b datastore.Document) int {
		for _, k := range keys {
			av, _ := Lookup(a, k.Field)
			bv, _ := Lookup(b, k.Field)
			c := Compare(av, bv)
			if k.Direction < 0 {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	return docs
}
