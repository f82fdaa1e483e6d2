package db

import "embed"

// MigrationFS embeds the account store schema from internal/db/migrations for cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
