package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONText stores an arbitrary JSON document in a TEXT column. It works
// across PostgreSQL, MySQL, and SQLite without driver-specific JSON types.
type JSONText json.RawMessage

// Scan implements the sql.Scanner interface for reading from the database.
func (j *JSONText) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = JSONText(v)
		return nil
	default:
		return errors.New("JSONText: unsupported scan type")
	}
}

// Value implements the driver.Valuer interface for writing to the database.
func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// MarshalJSON returns j as the JSON encoding of the stored document.
func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON sets *j to a copy of data.
func (j *JSONText) UnmarshalJSON(data []byte) error {
	*j = append((*j)[0:0], data...)
	return nil
}

// GormDataType returns the GORM data type hint.
func (JSONText) GormDataType() string {
	return "text"
}
