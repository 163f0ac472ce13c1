// Package userdb wraps the per-worker prepared user-lookup statement.
// The user-authentication business logic and schema belong to the
// embedding program; this package only owns the prepared-statement
// lifecycle, so each Worker can query without contending with the
// others at the statement level. The driver is
// github.com/mattn/go-sqlite3 via database/sql.
package userdb

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const lookupQuery = `SELECT user, ether, atime FROM users WHERE ip = ?1`

// Lookup is one Worker's private prepared statement handle.
type Lookup struct {
	stmt *sql.Stmt
}

// Prepare builds a Lookup bound to db. Called once per Worker during
// Pool.Run, only when Options.UserAuth is set.
func Prepare(db *sql.DB) (*Lookup, error) {
	stmt, err := db.Prepare(lookupQuery)
	if err != nil {
		return nil, fmt.Errorf("userdb: prepare get_user statement: %w", err)
	}
	return &Lookup{stmt: stmt}, nil
}

// Record is one row of the user table keyed by source IP.
type Record struct {
	User  string
	Ether string
	ATime int64
}

// Query looks up the user record for ip. A no-rows result is not an
// error: it returns the zero Record and a nil error, since "user" is an
// optional, possibly-absent field on the Connection Record.
func (l *Lookup) Query(ip string) (Record, error) {
	var rec Record
	err := l.stmt.QueryRow(ip).Scan(&rec.User, &rec.Ether, &rec.ATime)
	if err == sql.ErrNoRows {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("userdb: query get_user statement: %w", err)
	}
	return rec, nil
}

// Close finalizes the prepared statement. Called once per Worker during
// Pool.Free.
func (l *Lookup) Close() error {
	return l.stmt.Close()
}
