package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Predicate filters the value column of one typed store.
// A nil operand means the operator is absent; all present operators must hold.
type Predicate struct {
	Equals     any     `json:"equals,omitempty"`
	In         []any   `json:"in,omitempty"`
	NotIn      []any   `json:"notIn,omitempty"`
	Lt         any     `json:"lt,omitempty"`
	Lte        any     `json:"lte,omitempty"`
	Gt         any     `json:"gt,omitempty"`
	Gte        any     `json:"gte,omitempty"`
	Contains   *string `json:"contains,omitempty"`
	StartsWith *string `json:"startsWith,omitempty"`
	EndsWith   *string `json:"endsWith,omitempty"`
}

func Equals(v any) Predicate {
	return Predicate{Equals: v}
}

func Contains(s string) Predicate {
	return Predicate{Contains: &s}
}

func StartsWith(s string) Predicate {
	return Predicate{StartsWith: &s}
}

func EndsWith(s string) Predicate {
	return Predicate{EndsWith: &s}
}

// UnmarshalJSON accepts either a filter object or a bare scalar, which is
// shorthand for {"equals": scalar}.
func (p *Predicate) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty where", ErrInvalidInput)
	}
	if trimmed[0] != '{' {
		var scalar any
		if err := json.Unmarshal(trimmed, &scalar); err != nil {
			return err
		}
		switch scalar.(type) {
		case string, float64:
		default:
			return fmt.Errorf("%w: where must be a string, a number or a filter object", ErrInvalidInput)
		}
		*p = Predicate{Equals: scalar}
		return nil
	}

	var raw struct {
		Equals     any             `json:"equals"`
		In         json.RawMessage `json:"in"`
		NotIn      json.RawMessage `json:"notIn"`
		Lt         any             `json:"lt"`
		Lte        any             `json:"lte"`
		Gt         any             `json:"gt"`
		Gte        any             `json:"gte"`
		Contains   *string         `json:"contains"`
		StartsWith *string         `json:"startsWith"`
		EndsWith   *string         `json:"endsWith"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	in, err := decodeList(raw.In)
	if err != nil {
		return fmt.Errorf("in: %w", err)
	}
	notIn, err := decodeList(raw.NotIn)
	if err != nil {
		return fmt.Errorf("notIn: %w", err)
	}
	*p = Predicate{
		Equals:     raw.Equals,
		In:         in,
		NotIn:      notIn,
		Lt:         raw.Lt,
		Lte:        raw.Lte,
		Gt:         raw.Gt,
		Gte:        raw.Gte,
		Contains:   raw.Contains,
		StartsWith: raw.StartsWith,
		EndsWith:   raw.EndsWith,
	}
	return nil
}

func decodeList(raw json.RawMessage) ([]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		out := make([]any, 0)
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var scalar any
	if err := json.Unmarshal(trimmed, &scalar); err != nil {
		return nil, err
	}
	return []any{scalar}, nil
}

// Normalize checks every operand against the store kind and converts numbers
// to float64 so the same predicate compiles identically for every store.
func (p Predicate) Normalize(kind ValueKind) (Predicate, error) {
	if !kind.Filterable() {
		return Predicate{}, fmt.Errorf("%w: %s", ErrNotFilterable, kind)
	}

	conv := func(op string, v any) (any, error) {
		if kind == KindNumeric {
			f, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("%w: %s expects a number, got %T", ErrInvalidInput, op, v)
			}
			return f, nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string, got %T", ErrInvalidInput, op, v)
		}
		return s, nil
	}

	var out Predicate
	scalars := []struct {
		op  string
		in  any
		out *any
	}{
		{"equals", p.Equals, &out.Equals},
		{"lt", p.Lt, &out.Lt},
		{"lte", p.Lte, &out.Lte},
		{"gt", p.Gt, &out.Gt},
		{"gte", p.Gte, &out.Gte},
	}
	for _, s := range scalars {
		if s.in == nil {
			continue
		}
		v, err := conv(s.op, s.in)
		if err != nil {
			return Predicate{}, err
		}
		*s.out = v
	}

	lists := []struct {
		op  string
		in  []any
		out *[]any
	}{
		{"in", p.In, &out.In},
		{"notIn", p.NotIn, &out.NotIn},
	}
	for _, l := range lists {
		if l.in == nil {
			continue
		}
		values := make([]any, 0, len(l.in))
		for _, item := range l.in {
			v, err := conv(l.op, item)
			if err != nil {
				return Predicate{}, err
			}
			values = append(values, v)
		}
		*l.out = values
	}

	if p.Contains != nil || p.StartsWith != nil || p.EndsWith != nil {
		if !kind.Stringly() {
			return Predicate{}, fmt.Errorf("%w: contains, startsWith and endsWith apply to strings only", ErrInvalidInput)
		}
		out.Contains = p.Contains
		out.StartsWith = p.StartsWith
		out.EndsWith = p.EndsWith
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
