package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Custom serializers for the JSON-backed columns. The metadata blob is
// schema-less on purpose, the UI layer owns its shape and the core only
// passes it through.

type MetadataMap map[string]any

// Value implements the driver.Valuer interface.
func (m MetadataMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "", nil
	}

	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to serialize metadata, %w", err)
	}

	return string(b), nil
}

// Scan implements the sql.Scanner interface.
func (m *MetadataMap) Scan(value interface{}) error {
	str, err := columnString(value)
	if err != nil {
		return fmt.Errorf("failed to scan MetadataMap, %w", err)
	}

	if str == "" {
		*m = MetadataMap{}
		return nil
	}

	return json.Unmarshal([]byte(str), m)
}

// StringList stores a []string as a JSON column. Error messages routinely
// contain commas and quotes so a join-on-separator encoding won't do
type StringList []string

// Value implements the driver.Valuer interface.
func (s StringList) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "", nil
	}

	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to serialize string list, %w", err)
	}

	return string(b), nil
}

// Scan implements the sql.Scanner interface.
func (s *StringList) Scan(value interface{}) error {
	str, err := columnString(value)
	if err != nil {
		return fmt.Errorf("failed to scan StringList, %w", err)
	}

	if str == "" {
		*s = StringList{}
		return nil
	}

	return json.Unmarshal([]byte(str), s)
}

func columnString(value interface{}) (string, error) {
	if value == nil {
		return "", nil
	}

	str, ok := value.(string)
	if !ok {
		b, ok := value.([]byte)
		if !ok {
			return "", fmt.Errorf("unsupported column type %T", value)
		}

		str = string(b)
	}

	return str, nil
}
