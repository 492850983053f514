// Package redis хранит журнал запросов алертов в списке Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/x-research-team/alertlookup/alerts/journal"
)

const (
	defaultKey      = "alertlookup:journal"
	defaultCapacity = 1000
)

// Option настраивает Storage.
type Option func(*Storage)

// WithKey задает ключ списка.
func WithKey(key string) Option {
	return func(s *Storage) {
		if key = strings.Trim(key, ":"); key != "" {
			s.key = key
		}
	}
}

// WithCapacity задает число хранимых записей. Старые записи обрезаются.
func WithCapacity(capacity int) Option {
	return func(s *Storage) {
		if capacity > 0 {
			s.capacity = capacity
		}
	}
}

// Storage — реализация journal.Storage поверх списка Redis: новые записи
// добавляются в голову, хвост обрезается до capacity.
type Storage struct {
	rdb      goredis.Cmdable
	key      string
	capacity int
}

var _ journal.Storage = (*Storage)(nil)

// New создает хранилище поверх rdb.
func New(rdb goredis.Cmdable, opts ...Option) *Storage {
	s := &Storage{
		rdb:      rdb,
		key:      defaultKey,
		capacity: defaultCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect подключается к Redis по адресу addr и проверяет соединение.
// Клиент закрывается вызывающим.
func Connect(ctx context.Context, addr string, opts ...Option) (*Storage, *goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("Redis по адресу '%s' недоступен: %w", addr, err)
	}
	return New(rdb, opts...), rdb, nil
}

// Save реализует journal.Storage.
func (s *Storage) Save(ctx context.Context, entries ...*journal.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	values := make([]any, 0, len(entries))
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("не удалось сериализовать запись журнала: %w", err)
		}
		values = append(values, b)
	}

	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, s.key, values...)
	pipe.LTrim(ctx, s.key, 0, int64(s.capacity-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("не удалось сохранить записи журнала в Redis: %w", err)
	}
	return nil
}

// Recent реализует journal.Storage.
func (s *Storage) Recent(ctx context.Context, limit int) ([]*journal.Entry, error) {
	// Список обрезается до емкости при записи, -1 читает его целиком.
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	raw, err := s.rdb.LRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать журнал из Redis: %w", err)
	}
	return decode(raw)
}

func decode(raw []string) ([]*journal.Entry, error) {
	entries := make([]*journal.Entry, 0, len(raw))
	for _, item := range raw {
		var e journal.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("не удалось десериализовать запись журнала: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}
