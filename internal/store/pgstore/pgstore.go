// Package pgstore implements store.Store on PostgreSQL. Each relation
// is a two-column document table (id TEXT, doc JSONB) plus a BIGSERIAL
// for stable insertion order; filters map to JSONB containment and
// patches to the || merge operator, so the store needs no schema
// knowledge beyond the relation names.
package pgstore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/wainbox/wainbox/internal/store"
)

const (
	tablePrefix      = "wainbox_"
	operationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Backend is a store.Store over one PostgreSQL database.
type Backend struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// New builds a backend for the given DSN. The connection is opened and
// the tables are created lazily on first use.
func New(dsn string) (*Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("pgstore: empty dsn")
	}
	return &Backend{dsn: dsn, openDB: sql.Open}, nil
}

var _ store.Store = (*Backend)(nil)

// relations that get a table on first use.
var relations = []store.Relation{
	store.Conversations,
	store.Messages,
	store.Tags,
	store.ConversationTags,
	store.Agents,
}

func (b *Backend) ensureReady() error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		for _, rel := range relations {
			query := fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					seq BIGSERIAL,
					id TEXT PRIMARY KEY,
					doc JSONB NOT NULL
				)`, quoteIdentifier(tableFor(rel)))
			if _, err := db.ExecContext(ctx, query); err != nil {
				_ = db.Close()
				b.initErr = err
				return
			}
		}
		b.db = db
	})
	return b.initErr
}

// Close releases the database handle.
func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Backend) Select(ctx context.Context, relation store.Relation, filter store.Filter, order store.Order) ([]json.RawMessage, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}

	query, args, err := buildSelect(relation, filter, order)
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]json.RawMessage, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(doc))
	}
	return out, rows.Err()
}

func (b *Backend) Insert(ctx context.Context, relation store.Relation, row any) (json.RawMessage, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	id, _ := doc["id"].(string)
	if id == "" {
		id = newRowID(relation)
		doc["id"] = id
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (id, doc) VALUES ($1, $2::jsonb) RETURNING doc",
		quoteIdentifier(tableFor(relation)))
	var stored []byte
	if err := b.db.QueryRowContext(ctx, query, id, string(payload)).Scan(&stored); err != nil {
		return nil, err
	}
	return json.RawMessage(stored), nil
}

func (b *Backend) Update(ctx context.Context, relation store.Relation, id string, patch map[string]any) (json.RawMessage, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"UPDATE %s SET doc = doc || $2::jsonb WHERE id = $1 RETURNING doc",
		quoteIdentifier(tableFor(relation)))
	var stored []byte
	err = b.db.QueryRowContext(ctx, query, id, string(payload)).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(stored), nil
}

func (b *Backend) Delete(ctx context.Context, relation store.Relation, id string) error {
	if err := b.ensureReady(); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", quoteIdentifier(tableFor(relation)))
	res, err := b.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// buildSelect renders the query for one Select call. Filters become a
// JSONB containment check, which uses the default GIN operator class if
// the deployment adds an index; ordering sorts on the raw JSONB value
// so numbers compare numerically.
func buildSelect(relation store.Relation, filter store.Filter, order store.Order) (string, []any, error) {
	var sb strings.Builder
	args := make([]any, 0, 1)

	fmt.Fprintf(&sb, "SELECT doc FROM %s", quoteIdentifier(tableFor(relation)))
	if len(filter) > 0 {
		payload, err := json.Marshal(filter)
		if err != nil {
			return "", nil, err
		}
		args = append(args, string(payload))
		fmt.Fprintf(&sb, " WHERE doc @> $%d::jsonb", len(args))
	}
	if order.Field != "" {
		fmt.Fprintf(&sb, " ORDER BY doc->%s", quoteLiteral(order.Field))
		if order.Desc {
			sb.WriteString(" DESC")
		}
		if order.NullsLast {
			sb.WriteString(" NULLS LAST")
		}
		sb.WriteString(", seq")
	} else {
		sb.WriteString(" ORDER BY seq")
	}
	return sb.String(), args, nil
}

func tableFor(relation store.Relation) string {
	return tablePrefix + string(relation)
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func newRowID(relation store.Relation) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", relation, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", relation, hex.EncodeToString(buf))
}
