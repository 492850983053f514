package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/x-research-team/alertlookup/alerts"
	"github.com/x-research-team/alertlookup/alerts/dispatch"
	"github.com/x-research-team/alertlookup/alerts/journal"
	"github.com/x-research-team/alertlookup/alerts/journal/postgres"
	"github.com/x-research-team/alertlookup/alerts/journal/redis"
	"github.com/x-research-team/alertlookup/alerts/result"
	"github.com/x-research-team/alertlookup/alerts/selector"
)

const (
	envToken       = "KOWALSKI_TOKEN"
	envProtocol    = "KOWALSKI_PROTOCOL"
	envHost        = "KOWALSKI_HOST"
	envPort        = "KOWALSKI_PORT"
	envPostgresDSN = "ALERTLOOKUP_POSTGRES_DSN"
	envRedisAddr   = "ALERTLOOKUP_REDIS_ADDR"

	defaultProtocol = "https"
	defaultHost     = "kowalski.caltech.edu"
	defaultPort     = 443
)

type options struct {
	objectID, ra, dec, radius string

	baseURL        string
	token          string
	timeout        time.Duration
	rateLimit      float64
	postgresDSN    string
	redisAddr      string
	staleRejection bool
	journalLimit   int
	logLevel       string
}

func newRootCmd() *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:   "alertlookup",
		Short: "Поиск алертов в каталоге Kowalski",
		Long: strings.TrimSpace(`
Выполняет один запрос GET /api/alerts и печатает результат.

Ветка запроса выбирается по заполненным параметрам:
  --object-id, --ra, --dec и --radius  objectId и конус с radius_units=arcsec
  --object-id                          objectId
  --ra, --dec и --radius               конус с radius_units=arcsec
  иначе                                objectId с пустым значением

Адрес каталога и токен берутся из KOWALSKI_PROTOCOL, KOWALSKI_HOST,
KOWALSKI_PORT и KOWALSKI_TOKEN, если не заданы флагами.`),
		Example: strings.TrimSpace(`
alertlookup --object-id ZTF21abcdefg
alertlookup --ra 10.5 --dec +41.2 --radius 5
alertlookup --object-id ZTF21abcdefg --postgres-dsn postgres://localhost/alerts --journal 10`),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.objectID, "object-id", "", "идентификатор объекта")
	f.StringVar(&o.ra, "ra", "", "прямое восхождение")
	f.StringVar(&o.dec, "dec", "", "склонение")
	f.StringVar(&o.radius, "radius", "", "радиус поиска в угловых секундах")
	f.StringVar(&o.baseURL, "base-url", "", "адрес каталога; по умолчанию собирается из KOWALSKI_*")
	f.StringVar(&o.token, "token", os.Getenv(envToken), "токен доступа к каталогу")
	f.DurationVar(&o.timeout, "timeout", dispatch.DefaultTimeout, "таймаут запроса к каталогу")
	f.Float64Var(&o.rateLimit, "rate-limit", 0, "максимум запросов в секунду; 0 отключает ограничение")
	f.StringVar(&o.postgresDSN, "postgres-dsn", os.Getenv(envPostgresDSN), "DSN PostgreSQL для журнала запросов")
	f.StringVar(&o.redisAddr, "redis-addr", os.Getenv(envRedisAddr), "адрес Redis для журнала запросов")
	f.BoolVar(&o.staleRejection, "stale-rejection", false, "отбрасывать результаты устаревших запросов")
	f.IntVar(&o.journalLimit, "journal", 0, "после запроса напечатать столько последних записей журнала")
	f.StringVar(&o.logLevel, "log-level", "warn", "уровень логирования: debug, info, warn, error")

	return cmd
}

// output — JSON-представление результата.
type output struct {
	Branch     string           `json:"branch"`
	Request    string           `json:"request"`
	Generation uint64           `json:"generation"`
	Status     string           `json:"status"`
	Data       json.RawMessage  `json:"data,omitempty"`
	Message    string           `json:"message,omitempty"`
	Journal    []*journal.Entry `json:"journal,omitempty"`
}

func run(ctx context.Context, o *options, stdout, stderr io.Writer) error {
	logger, err := newLogger(o.logLevel, stderr)
	if err != nil {
		return err
	}

	baseURL := o.baseURL
	if baseURL == "" {
		baseURL, err = kowalskiURLFromEnv()
		if err != nil {
			return err
		}
	}

	fetcher, err := dispatch.NewHTTPFetcher(baseURL,
		dispatch.WithToken(o.token),
		dispatch.WithTimeout(o.timeout),
		dispatch.WithRateLimit(o.rateLimit, 1),
	)
	if err != nil {
		return err
	}

	clientOpts := []alerts.Option{alerts.WithLogger(logger)}
	if o.staleRejection {
		clientOpts = append(clientOpts, alerts.WithStaleRejection())
	}

	var storage journal.Storage
	switch {
	case o.postgresDSN != "" && o.redisAddr != "":
		return errors.New("журнал можно хранить либо в PostgreSQL, либо в Redis")
	case o.postgresDSN != "":
		pg, pool, err := postgres.Connect(ctx, o.postgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		storage = pg
	case o.redisAddr != "":
		rs, rdb, err := redis.Connect(ctx, o.redisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		storage = rs
	default:
		storage = journal.NewMemoryStorage(0)
	}
	j := journal.New(storage, journal.WithLogger(logger))
	clientOpts = append(clientOpts, alerts.WithJournal(j))

	client, err := alerts.New(fetcher, clientOpts...)
	if err != nil {
		return err
	}

	req, err := client.Lookup(ctx, selector.Params{
		ObjectID: o.objectID,
		RA:       o.ra,
		Dec:      o.dec,
		Radius:   o.radius,
	})
	if err != nil {
		return errors.Join(err, client.Shutdown(context.WithoutCancel(ctx)))
	}

	// Выборка не отменяется: даже после сигнала ждем завершения цикла.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout+5*time.Second)
	defer cancel()
	if err := client.Shutdown(shutdownCtx); err != nil {
		return err
	}

	state := client.Result()
	out := output{
		Branch:     req.Branch.String(),
		Request:    req.String(),
		Generation: state.Generation,
		Status:     state.Status.String(),
		Data:       state.Payload,
		Message:    state.Message,
	}
	if o.journalLimit > 0 {
		out.Journal, err = j.Recent(shutdownCtx, o.journalLimit)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("не удалось вывести результат: %w", err)
	}

	if state.Status != result.StatusSuccess {
		return fmt.Errorf("поиск завершился со статусом %s", state.Status)
	}
	return nil
}

func kowalskiURLFromEnv() (string, error) {
	protocol := envOr(envProtocol, defaultProtocol)
	host := envOr(envHost, defaultHost)
	port := defaultPort
	if raw := os.Getenv(envPort); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 0 || p > 65535 {
			return "", fmt.Errorf("некорректное значение %s: %q", envPort, raw)
		}
		port = p
	}
	return dispatch.KowalskiURL(protocol, host, port), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("некорректный уровень логирования %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
