package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/edgard/inboxpilot/internal/domain"
)

// scanJSON decodes a TEXT/BLOB column holding JSON into dst.
func scanJSON(src any, dst any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func valueJSON(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// StringList is a []string stored as a JSON array.
type StringList []string

func (l *StringList) Scan(src any) error {
	*l = nil
	return scanJSON(src, (*[]string)(l))
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return valueJSON([]string(l))
}

// FieldMap is a map[string]string stored as a JSON object.
type FieldMap map[string]string

func (m *FieldMap) Scan(src any) error {
	*m = nil
	return scanJSON(src, (*map[string]string)(m))
}

func (m FieldMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return valueJSON(map[string]string(m))
}

// Clone returns a copy that shares nothing with m.
func (m FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CountMap is a map[string]int stored as a JSON object.
type CountMap map[string]int

func (m *CountMap) Scan(src any) error {
	*m = nil
	return scanJSON(src, (*map[string]int)(m))
}

func (m CountMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return valueJSON(map[string]int(m))
}

// Attachments is a list of message attachments stored as JSON. Raw bytes are
// never persisted.
type Attachments []domain.Attachment

func (a *Attachments) Scan(src any) error {
	*a = nil
	return scanJSON(src, (*[]domain.Attachment)(a))
}

func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return valueJSON([]domain.Attachment(a))
}

// GoalConfigs is the per-goal field configuration stored as JSON.
type GoalConfigs domain.GoalConfigs

func (g *GoalConfigs) Scan(src any) error {
	*g = nil
	return scanJSON(src, (*domain.GoalConfigs)(g))
}

func (g GoalConfigs) Value() (driver.Value, error) {
	if g == nil {
		return "{}", nil
	}
	return valueJSON(domain.GoalConfigs(g))
}
