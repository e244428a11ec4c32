package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrInvalidFilter is wrapped by every decoding failure.
var ErrInvalidFilter = errors.New("invalid filter")

// UnmarshalJSON decodes the wire form. Unknown keys are ignored; tag keys
// must be "#" followed by a single ASCII letter.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return fmt.Errorf("%w: must be a JSON object", ErrInvalidFilter)
	}
	out := Filter{}
	for key, raw := range obj {
		var err error
		switch key {
		case "ids":
			out.IDs, err = decodeSet[string](key, raw)
		case "authors":
			out.Authors, err = decodeSet[string](key, raw)
		case "kinds":
			out.Kinds, err = decodeSet[int](key, raw)
		case "since":
			out.Since, err = decodeInt[int64](key, raw)
		case "until":
			out.Until, err = decodeInt[int64](key, raw)
		case "limit":
			out.Limit, err = decodeInt[int](key, raw)
			if err == nil && out.Limit != nil && *out.Limit < 0 {
				err = fmt.Errorf("%w: limit must be non-negative", ErrInvalidFilter)
			}
		default:
			if !strings.HasPrefix(key, "#") {
				continue
			}
			name := key[1:]
			if !isTagLetter(name) {
				return fmt.Errorf("%w: unsupported tag key %q", ErrInvalidFilter, key)
			}
			var values mapset.Set[string]
			values, err = decodeSet[string](key, raw)
			if err == nil && values != nil {
				if out.Tags == nil {
					out.Tags = make(map[string]mapset.Set[string])
				}
				out.Tags[name] = values
			}
		}
		if err != nil {
			return err
		}
	}
	*f = out
	return nil
}

func isTagLetter(s string) bool {
	return len(s) == 1 && (s[0] >= 'a' && s[0] <= 'z' || s[0] >= 'A' && s[0] <= 'Z')
}

func decodeSet[T comparable](key string, raw json.RawMessage) (mapset.Set[T], error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var values []T
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: %s must be an array", ErrInvalidFilter, key)
	}
	return mapset.NewThreadUnsafeSet(values...), nil
}

func decodeInt[T int | int64](key string, raw json.RawMessage) (*T, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidFilter, key)
	}
	return &v, nil
}

// MarshalJSON encodes the wire form with keys in a stable order and set
// members sorted.
func (f Filter) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	field := func(key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(data)
		return nil
	}

	if f.IDs != nil {
		if err := field("ids", sorted(f.IDs)); err != nil {
			return nil, err
		}
	}
	if f.Authors != nil {
		if err := field("authors", sorted(f.Authors)); err != nil {
			return nil, err
		}
	}
	if f.Kinds != nil {
		if err := field("kinds", sorted(f.Kinds)); err != nil {
			return nil, err
		}
	}
	names := make([]string, 0, len(f.Tags))
	for name := range f.Tags {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := field("#"+name, sorted(f.Tags[name])); err != nil {
			return nil, err
		}
	}
	if f.Since != nil {
		if err := field("since", *f.Since); err != nil {
			return nil, err
		}
	}
	if f.Until != nil {
		if err := field("until", *f.Until); err != nil {
			return nil, err
		}
	}
	if f.Limit != nil {
		if err := field("limit", *f.Limit); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func sorted[T int | string](s mapset.Set[T]) []T {
	out := s.ToSlice()
	slices.Sort(out)
	return out
}
