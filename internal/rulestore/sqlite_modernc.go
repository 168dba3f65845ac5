//go:build !cgo_sqlite

package rulestore

import (
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver, pure Go
)

const sqlDriverName = "sqlite"
