//go:build cgo_sqlite

package rulestore

import (
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" database/sql driver, requires CGO
)

const sqlDriverName = "sqlite3"
