package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Pagination describes list pagination metadata.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// StringSlice stores a JSON array of strings in a JSONB column.
type StringSlice []string

// Value implements driver.Valuer.
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *StringSlice) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported type %T for StringSlice", src)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(raw, s)
}

// BoolMap stores a JSON object of boolean flags in a JSONB column.
type BoolMap map[string]bool

// Value implements driver.Valuer.
func (m BoolMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *BoolMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported type %T for BoolMap", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, m)
}
