package store

import "embed"

// Migrations holds the goose migrations for the Postgres schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS
