package postgresutils

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"k8s.io/klog"

	"github.com/bcaldwell/plaid2qfx/pkg/config"
)

// CreatePostgresClient connects to database. Without a DATABASE_URL the
// connection is built from the sql secrets and the database is created
// when the server does not have it yet.
func CreatePostgresClient(ctx context.Context, database string, secrets config.Secrets) (*bun.DB, error) {
	var pgconn *pgdriver.Connector

	if secrets.DatabaseURL != "" {
		// this panics if its invalid
		pgconn = pgdriver.NewConnector(pgdriver.WithDSN(secrets.DatabaseURL))
	} else {
		host := withDefaultPort(secrets.SQL.SqlHost)
		if err := ensureDatabase(ctx, host, database, secrets.SQL); err != nil {
			return nil, err
		}
		pgconn = connector(host, database, secrets.SQL)
	}

	db := bun.NewDB(sql.OpenDB(pgconn), pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return db, nil
}

func connector(host, database string, secrets config.SqlSecrets) *pgdriver.Connector {
	return pgdriver.NewConnector(
		pgdriver.WithAddr(host),
		pgdriver.WithInsecure(true),
		pgdriver.WithUser(secrets.SqlUsername),
		pgdriver.WithPassword(secrets.SqlPassword),
		pgdriver.WithDatabase(database),
	)
}

func withDefaultPort(host string) string {
	if host == "" || strings.Contains(host, ":") {
		return host
	}
	return host + ":5432"
}

// ensureDatabase goes through the maintenance database since the target
// one may not exist yet.
func ensureDatabase(ctx context.Context, host, database string, secrets config.SqlSecrets) error {
	db := bun.NewDB(sql.OpenDB(connector(host, "postgres", secrets)), pgdialect.New())
	defer db.Close()

	exists, err := db.NewSelect().
		TableExpr("pg_database").
		Where("datname = ?", database).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to look up database %s: %w", database, err)
	}
	if exists {
		return nil
	}

	klog.Infof("Creating database %s in postgres\n", database)
	if _, err := db.NewRaw("CREATE DATABASE ?", bun.Ident(database)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create database %s: %w", database, err)
	}

	return nil
}

// UpsertSet builds the SET clause of an ON CONFLICT DO UPDATE that copies
// every column of model from the excluded row, skipping keep.
func UpsertSet(db bun.IDB, model interface{}, keep ...string) string {
	t := db.Dialect().Tables().Get(reflect.TypeOf(model).Elem())
	if t == nil {
		return ""
	}

	var set []string
	for _, f := range t.Fields {
		if slices.Contains(keep, f.Name) {
			continue
		}
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", f.Name, f.Name))
	}

	return strings.Join(set, ", ")
}
