package oplog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresLogTableName     = "branchpad_oplog"
	postgresLogKey           = "default"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// postgresLog stores operations in a row-per-operation table ordered by a
// serial id, so FIFO order is the insertion order.
type postgresLog struct {
	dsn       string
	tableName string
	logKey    string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresLog returns a Postgres-backed operation log.
func NewPostgresLog(dsn string) (Log, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &postgresLog{
		dsn:       dsn,
		tableName: postgresLogTableName,
		logKey:    postgresLogKey,
		openDB:    sql.Open,
	}, nil
}

func (l *postgresLog) ensureReady() error {
	l.initOnce.Do(func() {
		db, err := l.openDB("postgres", l.dsn)
		if err != nil {
			l.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				log_key TEXT NOT NULL,
				payload TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(l.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			l.initErr = err
			return
		}
		indexName := l.tableName + "_log_key_id_idx"
		indexQuery := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (log_key, id)",
			postgresQuoteIdentifier(indexName),
			postgresQuoteIdentifier(l.tableName),
		)
		if _, err := db.ExecContext(ctx, indexQuery); err != nil {
			_ = db.Close()
			l.initErr = err
			return
		}
		l.db = db
	})
	return l.initErr
}

func (l *postgresLog) Enqueue(op Operation) error {
	if strings.TrimSpace(op.ID) == "" {
		return ErrInvalidInput
	}
	if err := l.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(op)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"INSERT INTO %s (log_key, payload, created_at) VALUES ($1, $2, NOW())",
		postgresQuoteIdentifier(l.tableName),
	)
	_, err = l.db.ExecContext(ctx, query, l.logKey, string(payload))
	return err
}

func (l *postgresLog) Head() (Operation, bool) {
	if err := l.ensureReady(); err != nil {
		return Operation{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT payload FROM %s
		WHERE log_key = $1
		ORDER BY id ASC
		LIMIT 1`, postgresQuoteIdentifier(l.tableName))
	var payload string
	err := l.db.QueryRowContext(ctx, query, l.logKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Operation{}, false
	}
	if err != nil {
		return Operation{}, false
	}
	var op Operation
	if err := json.Unmarshal([]byte(payload), &op); err != nil {
		return Operation{}, false
	}
	return op, true
}

func (l *postgresLog) Dequeue() (Operation, bool) {
	if err := l.ensureReady(); err != nil {
		return Operation{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Operation{}, false
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`
		SELECT id, payload
		FROM %s
		WHERE log_key = $1
		ORDER BY id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, postgresQuoteIdentifier(l.tableName))
	var id int64
	var payload string
	err = tx.QueryRowContext(ctx, query, l.logKey).Scan(&id, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Operation{}, false
	}
	if err != nil {
		return Operation{}, false
	}
	deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE id = $1", postgresQuoteIdentifier(l.tableName))
	if _, err := tx.ExecContext(ctx, deleteQuery, id); err != nil {
		return Operation{}, false
	}
	if err := tx.Commit(); err != nil {
		return Operation{}, false
	}
	committed = true

	var op Operation
	if err := json.Unmarshal([]byte(payload), &op); err != nil {
		return Operation{}, false
	}
	return op, true
}

func (l *postgresLog) Depth() int {
	if err := l.ensureReady(); err != nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE log_key = $1", postgresQuoteIdentifier(l.tableName))
	var depth int
	if err := l.db.QueryRowContext(ctx, query, l.logKey).Scan(&depth); err != nil {
		return 0
	}
	return depth
}

func (l *postgresLog) Snapshot() []Operation {
	if err := l.ensureReady(); err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT payload FROM %s
		WHERE log_key = $1
		ORDER BY id ASC`, postgresQuoteIdentifier(l.tableName))
	rows, err := l.db.QueryContext(ctx, query, l.logKey)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return ops
		}
		var op Operation
		if err := json.Unmarshal([]byte(payload), &op); err != nil {
			continue
		}
		ops = append(ops, op)
	}
	return ops
}

func (l *postgresLog) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
