// Package db provides the embedded catalog stub schema.
package db

import _ "embed"

// Schema contains the DDL statements for the shop, category and product tables.
//
//go:embed migrations/001_schema.sql
var Schema string
