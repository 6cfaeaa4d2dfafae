// Package db embeds the database schema applied at startup.
package db

import _ "embed"

// Schema holds the DDL for every marketplace table, applied idempotently by
// the repository layer's migration runner.
//
//go:embed migrations/001_schema.sql
var Schema string
