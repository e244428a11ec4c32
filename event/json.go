package event

import (
	"encoding/json"
	"strconv"
)

// MarshalJSON encodes the event as a JSON object. Strings use the same
// escaping as Serialize. Calling it through json.Marshal re-escapes <, >, &
// and U+2028/U+2029, so callers that need these bytes verbatim call it
// directly.
func (e Event) MarshalJSON() ([]byte, error) {
	return appendObject(nil, e.ID, e.Fields(), e.Sig, true), nil
}

// UnmarshalJSON decodes and structurally checks an event.
func (e *Event) UnmarshalJSON(data []byte) error {
	ev, err := Parse(data)
	if err != nil {
		return err
	}
	*e = *ev
	return nil
}

func appendObject(buf []byte, id string, f Fields, sig string, withSig bool) []byte {
	buf = append(buf, `{"id":`...)
	buf = appendString(buf, id)
	buf = append(buf, `,"pubkey":`...)
	buf = appendString(buf, f.PubKey)
	buf = append(buf, `,"created_at":`...)
	buf = strconv.AppendInt(buf, f.CreatedAt, 10)
	buf = append(buf, `,"kind":`...)
	buf = strconv.AppendInt(buf, int64(f.Kind), 10)
	buf = append(buf, `,"tags":`...)
	buf = appendTags(buf, f.Tags)
	buf = append(buf, `,"content":`...)
	buf = appendString(buf, f.Content)
	if withSig {
		buf = append(buf, `,"sig":`...)
		buf = appendString(buf, sig)
	}
	return append(buf, '}')
}

// Parse decodes a JSON event object and runs Check on it. Every failure
// wraps ErrInvalidStructure.
func Parse(data []byte) (*Event, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	ev := &Event{}
	if ev.ID, err = stringField(obj, "id", true); err != nil {
		return nil, err
	}
	if ev.Sig, err = stringField(obj, "sig", true); err != nil {
		return nil, err
	}
	if err := decodeFields(obj, &ev.PubKey, &ev.CreatedAt, &ev.Kind, &ev.Tags, &ev.Content); err != nil {
		return nil, err
	}
	if err := Check(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return nil, structural("event must be a JSON object")
	}
	return obj, nil
}

func decodeFields(obj map[string]json.RawMessage, pubkey *string, createdAt *int64, kind *int, tags *Tags, content *string) error {
	var err error
	if *pubkey, err = stringField(obj, "pubkey", true); err != nil {
		return err
	}
	if *createdAt, err = intField(obj, "created_at"); err != nil {
		return err
	}
	k, err := intField(obj, "kind")
	if err != nil {
		return err
	}
	*kind = int(k)
	if *tags, err = tagsField(obj); err != nil {
		return err
	}
	if *content, err = stringField(obj, "content", true); err != nil {
		return err
	}
	return checkFields(*createdAt, *kind, *tags)
}

func stringField(obj map[string]json.RawMessage, name string, required bool) (string, error) {
	raw, ok := obj[name]
	if !ok {
		if required {
			return "", structural("missing %s", name)
		}
		return "", nil
	}
	var s string
	if len(raw) == 0 || raw[0] != '"' || json.Unmarshal(raw, &s) != nil {
		return "", structural("%s must be a string", name)
	}
	return s, nil
}

func intField(obj map[string]json.RawMessage, name string) (int64, error) {
	raw, ok := obj[name]
	if !ok {
		return 0, structural("missing %s", name)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, structural("%s must be an integer", name)
	}
	return n, nil
}

func tagsField(obj map[string]json.RawMessage) (Tags, error) {
	raw, ok := obj["tags"]
	if !ok {
		return nil, structural("missing tags")
	}
	if len(raw) == 0 || raw[0] != '[' {
		return nil, structural("tags must be an array")
	}
	var tags Tags
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, structural("tags must be arrays of strings")
	}
	if tags == nil {
		tags = Tags{}
	}
	return tags, nil
}
