package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexID is an upstream identifier. The API is inconsistent about
// identifier types (event IDs arrive as JSON numbers, ticket IDs as
// strings), so both decode into the same string form.
type FlexID string

func (id FlexID) String() string {
	return string(id)
}

func (id *FlexID) UnmarshalJSON(data []byte) error {
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
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier is neither string nor number: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

func (id FlexID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}
