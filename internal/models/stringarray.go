package models

import (
	"database/sql/driver"

	"github.com/lib/pq"
)

// StringArray is a []string stored as a postgres text[]
type StringArray []string

// Value implements driver.Valuer
func (a StringArray) Value() (driver.Value, error) {
	return pq.StringArray(a).Value()
}

// Scan implements sql.Scanner
func (a *StringArray) Scan(src interface{}) error {
	return (*pq.StringArray)(a).Scan(src)
}
