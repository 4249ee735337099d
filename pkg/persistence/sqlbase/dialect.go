package sqlbase

import (
	sq "github.com/Masterminds/squirrel"
)

// Dialect captures what differs between the SQL engines sharing this store.
type Dialect struct {
	// Name is the database/sql driver name.
	Name        string
	Placeholder sq.PlaceholderFormat
	// LockRows enables SELECT ... FOR UPDATE. Engines that serialize writers
	// at the database level leave it off.
	LockRows bool
	// Transient reports driver errors that a retried transaction may not hit again.
	Transient func(err error) bool
}

func (d Dialect) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.Placeholder)
}

func (d Dialect) transient(err error) bool {
	return d.Transient != nil && d.Transient(err)
}
