package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fairground/go-services/internal/datastore"
)

// decodeJSON reads a JSON value keeping integers integral: numbers without a
// fraction become int64, everything else float64.
func decodeJSON(r io.Reader, out any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = numbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = numbers(e)
		}
		return t
	}
	return v
}

func decodeDocument(r io.Reader) (datastore.Document, error) {
	var m map[string]any
	if err := decodeJSON(r, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("body must be a JSON object")
	}
	return datastore.Document(numbers(m).(map[string]any)), nil
}

func parseFilter(raw string) (datastore.Filter, error) {
	if raw == "" {
		return datastore.Filter{}, nil
	}
	var m map[string]any
	if err := decodeJSON(bytes.NewBufferString(raw), &m); err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if m == nil {
		return datastore.Filter{}, nil
	}
	return datastore.Filter(numbers(m).(map[string]any)), nil
}

// wireStage is the JSON form of one pipeline stage; exactly one field is set.
type wireStage struct {
	Match map[string]any `json:"match,omitempty"`
	Group *struct {
		By   string            `json:"by"`
		Sums map[string]string `json:"sums"`
	} `json:"group,omitempty"`
	Sort []struct {
		Field     string `json:"field"`
		Direction int    `json:"direction"`
	} `json:"sort,omitempty"`
	Limit *int `json:"limit,omitempty"`
}

func parsePipeline(r io.Reader) (datastore.Pipeline, error) {
	var stages []wireStage
	if err := decodeJSON(r, &stages); err != nil {
		return nil, err
	}
	out := make(datastore.Pipeline, 0, len(stages))
	for i, s := range stages {
		switch {
		case s.Match != nil:
			out = append(out, datastore.Match(datastore.Filter(numbers(s.Match).(map[string]any))))
		case s.Group != nil:
			out = append(out, datastore.Group(s.Group.By, s.Group.Sums))
		case s.Sort != nil:
			keys := make([]datastore.SortKey, 0, len(s.Sort))
			for _, k := range s.Sort {
				if k.Direction < 0 {
					keys = append(keys, datastore.Desc(k.Field))
				} else {
					keys = append(keys, datastore.Asc(k.Field))
				}
			}
			out = append(out, datastore.Sort(keys...))
		case s.Limit != nil:
			out = append(out, datastore.Limit(*s.Limit))
		default:
			return nil, fmt.Errorf("stage %d: expected one of match, group, sort, limit", i)
		}
	}
	return out, nil
}
