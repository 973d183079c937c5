// Package database provides the agent's local SQLite store.
//
// The store holds the command log. It is optional: an agent with the
// database disabled still runs, it just keeps no history of handled
// commands.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Each one runs in its own transaction and
// is recorded in schema_migrations.
package database
