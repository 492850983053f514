// Package postgres хранит журнал запросов алертов в PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/x-research-team/alertlookup/alerts/journal"
	"github.com/x-research-team/alertlookup/alerts/result"
)

const (
	// Индекс по времени создания для выборки последних записей.
	createTableQuery = `
CREATE TABLE IF NOT EXISTS alert_lookups (
    id UUID PRIMARY KEY,
    event_id VARCHAR(64) NOT NULL,
    generation BIGINT NOT NULL,
    kind VARCHAR(32) NOT NULL,
    path TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_lookups_created_at ON alert_lookups (created_at DESC);
`

	insertEntryQuery = `
INSERT INTO alert_lookups (id, event_id, generation, kind, path, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING;
`

	recentEntriesQuery = `
SELECT id, event_id, generation, kind, path, message, created_at
FROM alert_lookups
ORDER BY created_at DESC, generation DESC
LIMIT $1;
`
)

// Storage — реализация journal.Storage для PostgreSQL.
type Storage struct {
	q Querier
}

var _ journal.Storage = (*Storage)(nil)

// New создает хранилище поверх q и выполняет миграцию, создавая таблицу,
// если она не существует.
func New(ctx context.Context, q Querier) (*Storage, error) {
	if _, err := q.Exec(ctx, createTableQuery); err != nil {
		return nil, fmt.Errorf("не удалось создать таблицу alert_lookups: %w", err)
	}
	return &Storage{q: q}, nil
}

// Connect открывает пул соединений по dsn и создает хранилище поверх него.
// Пул закрывается вызывающим.
func Connect(ctx context.Context, dsn string) (*Storage, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("не удалось подключиться к PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("PostgreSQL недоступен: %w", err)
	}

	s, err := New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// WithQuerier возвращает копию хранилища, работающую через q, например
// внутри транзакции.
func (s *Storage) WithQuerier(q Querier) *Storage {
	return &Storage{q: q}
}

// Save реализует journal.Storage. Записи пачки отправляются одним обращением.
func (s *Storage) Save(ctx context.Context, entries ...*journal.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertEntryQuery,
			e.ID,
			e.EventID,
			int64(e.Generation),
			string(e.Kind),
			e.Path,
			e.Message,
			e.CreatedAt,
		)
	}

	br := s.q.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("не удалось сохранить запись журнала: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("не удалось завершить пакетную запись журнала: %w", err)
	}
	return nil
}

// Recent реализует journal.Storage.
func (s *Storage) Recent(ctx context.Context, limit int) ([]*journal.Entry, error) {
	// LIMIT NULL возвращает все строки.
	var arg any
	if limit > 0 {
		arg = limit
	}

	rows, err := s.q.Query(ctx, recentEntriesQuery, arg)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать журнал: %w", err)
	}
	defer rows.Close()

	entries := make([]*journal.Entry, 0)
	for rows.Next() {
		var (
			e    journal.Entry
			gen  int64
			kind string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &gen, &kind, &e.Path, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("не удалось сканировать запись журнала: %w", err)
		}
		e.Generation = uint64(gen)
		e.Kind = result.Kind(kind)
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по записям журнала: %w", err)
	}

	return entries, nil
}
