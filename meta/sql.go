/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package meta

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

/*
SQLProvider reads metadata from a table of the form

	CREATE TABLE methods (
		class  VARCHAR(255) NOT NULL,
		name   VARCHAR(255) NOT NULL,
		params INT NOT NULL,
		body   BLOB NOT NULL,          -- BYTEA on postgres
		PRIMARY KEY (class, name)
	)

drivers: "mysql" (go-sql-driver) and "postgres" (lib/pq).
*/
type SQLProvider struct {
	db     *sql.DB
	driver string
	table  string
}

// OpenSQL connects to a metadata database. table defaults to "methods".
func OpenSQL(driver string, dsn string, table string) (*SQLProvider, error) {
	switch driver {
	case "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported metadata driver %q (want mysql or postgres)", driver)
	}
	if table == "" {
		table = "methods"
	}
	if !validIdentifier(table) {
		return nil, fmt.Errorf("invalid metadata table name %q", table)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLProvider{db: db, driver: driver, table: table}, nil
}

func validIdentifier(s string) bool {
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return s != ""
}

// rebind rewrites ? placeholders into the driver's syntax.
func rebind(driver string, query string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (p *SQLProvider) ResolveClass(name string) error {
	var one int
	err := p.db.QueryRow(rebind(p.driver, "SELECT 1 FROM "+p.table+" WHERE class = ? LIMIT 1"), name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("class %s: %w", name, ErrNotFound)
	}
	return err
}

func (p *SQLProvider) ResolveMethod(class string, name string) (MethodDef, error) {
	var def MethodDef
	err := p.db.QueryRow(rebind(p.driver, "SELECT params, body FROM "+p.table+" WHERE class = ? AND name = ?"), class, name).Scan(&def.Params, &def.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return MethodDef{}, fmt.Errorf("method %s::%s: %w", class, name, ErrNotFound)
	}
	if err != nil {
		return MethodDef{}, err
	}
	return def, nil
}

func (p *SQLProvider) Close() error {
	return p.db.Close()
}
