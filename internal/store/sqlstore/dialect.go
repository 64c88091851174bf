package sqlstore

import (
	"database/sql"
	"strings"
)

// Dialect carries what differs between the SQL backends. Queries in this
// package are written with $N placeholders and rebound per dialect.
type Dialect struct {
	Name string
	// Schema is executed by Migrate. Statements must be idempotent.
	Schema string
	// ForUpdate is appended to locked re-reads inside a transaction.
	ForUpdate string
	// Isolation is the level used by WithTx.
	Isolation sql.IsolationLevel
	// Rebind rewrites $N placeholders. Nil keeps them unchanged.
	Rebind func(query string) string
	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation func(err error) bool
}

func (d Dialect) bind(query string) string {
	if d.Rebind == nil {
		return query
	}
	return d.Rebind(query)
}

func (d Dialect) uniqueViolation(err error) bool {
	return err != nil && d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}

// NumberedQuestion rewrites $N placeholders into ?N, which SQLite binds by
// position and allows to repeat.
func NumberedQuestion(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
