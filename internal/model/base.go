package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Pagination represents common pagination parameters
type Pagination struct {
	Page     int `json:"page" form:"page"`
	PageSize int `json:"page_size" form:"page_size"`
}

// StringMap is a map[string]string stored as JSONB.
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *StringMap) Scan(src interface{}) error {
	if src == nil {
		*m = StringMap{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into StringMap", src)
	}
	return json.Unmarshal(b, m)
}
