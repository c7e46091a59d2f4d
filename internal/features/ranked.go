package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Entry is one feature and its original (non-standardized) value.
type Entry struct {
	Name  Name
	Value float64
}

// Ranked is an ordered feature list. Order carries meaning: the first entry
// pushed the prediction hardest towards the positive class.
// It encodes as a JSON object whose key order is the ranking.
type Ranked []Entry

// Keys returns the feature names in ranked order.
func (r Ranked) Keys() []string {
	keys := make([]string, len(r))
	for i, e := range r {
		keys[i] = e.Name.String()
	}
	return keys
}

// Features rebuilds the unordered feature set.
func (r Ranked) Features() Features {
	var v [Count]float64
	for _, e := range r {
		if e.Name >= 0 && int(e.Name) < Count {
			v[e.Name] = e.Value
		}
	}
	return FromVector(v)
}

func (r Ranked) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(e.Name.String()))
		buf.WriteByte(':')
		switch {
		case e.Name.IsBool():
			buf.WriteString(strconv.FormatBool(e.Value != 0))
		default:
			buf.WriteString(strconv.FormatInt(int64(e.Value), 10))
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Ranked) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*r = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("ranked features: expected object, got %v", tok)
	}

	out := make(Ranked, 0, Count)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		name, ok := ParseName(key)
		if !ok {
			return fmt.Errorf("ranked features: unknown feature %q", key)
		}

		tok, err = dec.Token()
		if err != nil {
			return err
		}
		var value float64
		switch v := tok.(type) {
		case bool:
			value = boolToFloat(v)
		case float64:
			value = v
		default:
			return fmt.Errorf("ranked features: invalid value for %s", key)
		}
		out = append(out, Entry{Name: name, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = out
	return nil
}
