package statecache

import "embed"

// migrationFiles embeds the schema migrations the way the correlator-io
// retrieval example embeds its Postgres migrations (migrations/embed.go),
// substituted here for a two-table SQLite schema.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS
