package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Classification is one audited /classify call. Only the masked email is
// stored; the raw text is represented by its hash.
type Classification struct {
	ID          int64      `db:"id" json:"id"`
	RequestID   string     `db:"request_id" json:"request_id"`
	TextHash    string     `db:"text_hash" json:"text_hash"`
	MaskedEmail string     `db:"masked_email" json:"masked_email"`
	Category    string     `db:"category" json:"category"`
	Confidence  float64    `db:"confidence" json:"confidence"`
	EntityCount int        `db:"entity_count" json:"entity_count"`
	Entities    EntityList `db:"entities" json:"entities"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// EntityRef locates a masked entity without its value.
type EntityRef struct {
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// EntityList is stored as a jsonb column.
type EntityList []EntityRef

// Value implements driver.Valuer. The list is sent as text so the driver
// does not encode it as bytea.
func (l EntityList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *EntityList) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = EntityList{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into EntityList", src)
	}
	return json.Unmarshal(data, l)
}

// CategoryCount is the number of audited classifications per category.
type CategoryCount struct {
	Category string `db:"category" json:"category"`
	Count    int64  `db:"count" json:"count"`
}
