package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// StringSlice is a custom type for storing string arrays as JSON
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	return json.Unmarshal(value.([]byte), s)
}

// JSON is a custom type for storing arbitrary JSON data
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	return json.Unmarshal(value.([]byte), j)
}

// ErrorEntry is one recorded processing failure
type ErrorEntry struct {
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// ErrorLog is the append-only failure history of a queue item.
// Entries are never truncated or rewritten.
type ErrorLog []ErrorEntry

func (e ErrorLog) Value() (driver.Value, error) {
	return json.Marshal(e)
}

func (e *ErrorLog) Scan(value interface{}) error {
	if value == nil {
		*e = nil
		return nil
	}
	return json.Unmarshal(value.([]byte), e)
}

// Append returns a new log with the entry added. The receiver is not modified.
func (e ErrorLog) Append(attempt int, at time.Time, message string) ErrorLog {
	out := make(ErrorLog, 0, len(e)+1)
	out = append(out, e...)
	out = append(out, ErrorEntry{Attempt: attempt, Timestamp: at, Message: message})
	return out
}
