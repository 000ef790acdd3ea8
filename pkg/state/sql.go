package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/bcaldwell/plaid2qfx/pkg/postgresutils"
)

type cursorRecord struct {
	bun.BaseModel `bun:"table:cursors,alias:c"`

	Item      string    `bun:"item,pk"`
	Cursor    string    `bun:"cursor,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SQLStore keeps cursors in a postgres table.
type SQLStore struct {
	db    *bun.DB
	table string
}

// NewSQLStore creates table if it is missing.
func NewSQLStore(ctx context.Context, db *bun.DB, table string) (*SQLStore, error) {
	if table == "" {
		table = "cursors"
	}

	_, err := db.NewCreateTable().
		Model((*cursorRecord)(nil)).
		ModelTableExpr("?", bun.Ident(table)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create cursor table %s: %w", table, err)
	}

	return &SQLStore{db: db, table: table}, nil
}

func (s *SQLStore) Cursor(ctx context.Context, item string) (string, error) {
	record := cursorRecord{}

	err := s.db.NewSelect().
		Model(&record).
		ModelTableExpr("? AS c", bun.Ident(s.table)).
		Where("c.item = ?", item).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to read cursor for %s: %w", item, err)
	}

	return record.Cursor, nil
}

func (s *SQLStore) SaveCursor(ctx context.Context, item, cursor string) error {
	record := &cursorRecord{
		Item:      item,
		Cursor:    cursor,
		UpdatedAt: time.Now().UTC(),
	}

	_, err := s.upsert(record).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save cursor for %s: %w", item, err)
	}

	return nil
}

func (s *SQLStore) upsert(record *cursorRecord) *bun.InsertQuery {
	return s.db.NewInsert().
		Model(record).
		ModelTableExpr("? AS c", bun.Ident(s.table)).
		On("CONFLICT (item) DO UPDATE").
		Set(postgresutils.UpsertSet(s.db, record, "item"))
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
