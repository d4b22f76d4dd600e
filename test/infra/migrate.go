package infra

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"

	"bidflow/db"
)

// ApplicationName tags every connection the harness opens so chaos can aim
// at them without touching unrelated sessions.
const ApplicationName = "bidflow-stress"

// PrepareSchema migrates dsn and returns the DSN the services should use. On a
// shared database the migrations go into a fresh schema that teardown drops.
func PrepareSchema(ctx context.Context, dsn string, isolate bool) (string, func(context.Context) error, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", nil, fmt.Errorf("parse dsn: %w", err)
	}
	q := u.Query()
	q.Set("application_name", ApplicationName)

	cleanup := func(context.Context) error { return nil }
	if isolate {
		schema := fmt.Sprintf("stress_run_%d", time.Now().UnixNano())
		ident := pgx.Identifier{schema}.Sanitize()

		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return "", nil, fmt.Errorf("connect for schema: %w", err)
		}
		_, err = conn.Exec(ctx, "CREATE SCHEMA "+ident)
		conn.Close(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("create schema %s: %w", schema, err)
		}
		q.Set("search_path", schema)

		cleanup = func(ctx context.Context) error {
			dropConn, err := pgx.Connect(ctx, dsn)
			if err != nil {
				return err
			}
			defer dropConn.Close(ctx)
			_, err = dropConn.Exec(ctx, "DROP SCHEMA IF EXISTS "+ident+" CASCADE")
			return err
		}
	}
	u.RawQuery = q.Encode()
	scoped := u.String()

	if err := db.MigrateUp(scoped); err != nil {
		_ = cleanup(ctx)
		return "", nil, err
	}
	return scoped, cleanup, nil
}
