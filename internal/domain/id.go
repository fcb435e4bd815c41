package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is an opaque identifier assigned by the backend. The backend issues
// integers; the zero value means "not yet persisted".
type ID string

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id == "" }

func (id ID) String() string { return string(id) }

// numeric reports whether the id is a valid JSON integer: ASCII digits with
// no leading zero.
func (id ID) numeric() bool {
	if id == "" || (id[0] == '0' && len(id) > 1) {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// MarshalJSON writes numeric ids as JSON numbers so the backend's integer
// fields accept them. Unset ids marshal as null.
func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case id == "":
		return []byte("null"), nil
	case id.numeric():
		return []byte(id), nil
	default:
		return json.Marshal(string(id))
	}
}

// UnmarshalJSON accepts a JSON number, string, or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id: not an integer: %s", n)
	}
	*id = ID(n.String())
	return nil
}
