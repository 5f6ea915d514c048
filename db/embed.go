// Package db provides the embedded database schema.
package db

import _ "embed"

// Schema contains the DDL for orders, promotion settings and operator keys.
// Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
