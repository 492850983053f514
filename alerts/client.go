// Package alerts связывает выбор запроса, диспетчер и ячейку результата в
// один клиент поиска алертов.
//
//	c, _ := alerts.New(fetcher)
//	c.Lookup(ctx, selector.Params{ObjectID: "ZTF21abcdefg"})
//	c.Wait(ctx)
//	state := c.Result()
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/x-research-team/alertlookup/alerts/dispatch"
	"github.com/x-research-team/alertlookup/alerts/journal"
	"github.com/x-research-team/alertlookup/alerts/result"
	"github.com/x-research-team/alertlookup/alerts/selector"
	"github.com/x-research-team/alertlookup/bus/event"
	"github.com/x-research-team/alertlookup/bus/query"
)

// Client владеет одной ячейкой результата и отправляет в каталог запросы,
// собранные из параметров поиска.
type Client struct {
	cell       *result.Cell
	dispatcher *dispatch.Dispatcher
	journal    *journal.Journal
	logger     *slog.Logger

	events      *event.Registry
	queries     *query.Registry
	ownsEvents  bool
	ownsQueries bool
	unsub       []func()
}

// New создает клиент поверх fetcher.
func New(fetcher dispatch.Fetcher, opts ...Option) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher не может быть nil")
	}
	cfg := newConfig(opts)

	c := &Client{
		journal: cfg.journal,
		logger:  cfg.logger,
		events:  cfg.events,
		queries: cfg.queries,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.events == nil {
		c.events = event.NewRegistry(cfg.logger)
		c.ownsEvents = true
	}
	if c.queries == nil {
		c.queries = query.NewRegistry()
		c.ownsQueries = true
	}

	bus, err := event.Bus[result.Event](c.events, result.Topic,
		event.WithLogger[result.Event](cfg.logger),
		event.WithTracerProvider[result.Event](cfg.tracerProvider),
		event.WithMeterProvider[result.Event](cfg.meterProvider),
		event.WithPropagator[result.Event](cfg.propagator),
		event.WithWorkerPool[result.Event](cfg.workers, cfg.queueSize),
	)
	if err != nil {
		return nil, c.abort(fmt.Errorf("не удалось получить шину событий алертов: %w", err))
	}

	queries, err := query.Dispatcher[selector.Request, dispatch.Response](c.queries, dispatch.QueryName,
		query.WithLogger[selector.Request, dispatch.Response](cfg.logger),
		query.WithTracerProvider[selector.Request, dispatch.Response](cfg.tracerProvider),
		query.WithMeterProvider[selector.Request, dispatch.Response](cfg.meterProvider),
		query.WithPropagator[selector.Request, dispatch.Response](cfg.propagator),
	)
	if err != nil {
		return nil, c.abort(fmt.Errorf("не удалось получить диспетчер выборки алертов: %w", err))
	}
	if err := dispatch.Register(queries, fetcher); err != nil {
		return nil, c.abort(err)
	}

	// Реестр событий может быть общим: ячейка и журнал принимают только
	// события своего диспетчера.
	c.dispatcher = dispatch.New(bus, queries, dispatch.WithLogger(cfg.logger))

	var cellOpts []result.CellOption
	if cfg.staleRejection {
		cellOpts = append(cellOpts, result.WithStaleRejection())
	}
	if cfg.logger != nil {
		cellOpts = append(cellOpts, result.WithCellLogger(cfg.logger))
	}
	c.cell = result.NewCell(cfg.cellName, cellOpts...)

	unsubCell, err := bus.Subscribe(c.cell.Handle,
		event.WithSubscriberName[result.Event]("cell:"+c.cell.Name()),
		event.WithFilter[result.Event](func(ev result.Event) bool {
			return ev.Kind.Terminal() && c.dispatcher.Owns(ev)
		}),
	)
	if err != nil {
		return nil, c.abort(fmt.Errorf("не удалось подписать ячейку '%s': %w", c.cell.Name(), err))
	}
	c.unsub = append(c.unsub, unsubCell)

	if c.journal != nil {
		unsubJournal, err := bus.Subscribe(c.journal.Handle,
			event.WithAsync[result.Event](),
			event.WithSubscriberName[result.Event]("journal"),
			event.WithFilter[result.Event](c.dispatcher.Owns),
			event.WithErrorHandler[result.Event](func(err error, ev result.Event) {
				c.logger.Error("не удалось записать событие в журнал",
					slog.String("event_id", ev.ID),
					slog.Uint64("generation", ev.Generation),
					slog.Any("error", err),
				)
			}),
		)
		if err != nil {
			return nil, c.abort(fmt.Errorf("не удалось подписать журнал: %w", err))
		}
		c.unsub = append(c.unsub, unsubJournal)
		c.journal.Start()
	}

	return c, nil
}

// Lookup выбирает запрос по параметрам и отправляет его. Возвращенный
// запрос несет присвоенное поколение.
func (c *Client) Lookup(ctx context.Context, p selector.Params) (selector.Request, error) {
	req := selector.Select(p)
	c.logger.Debug("поиск алертов",
		slog.String("branch", req.Branch.String()),
		slog.String("path", req.String()),
	)
	return c.dispatcher.Dispatch(ctx, req)
}

// Result возвращает текущее кешированное состояние.
func (c *Client) Result() result.State {
	return c.cell.Load()
}

// Cell возвращает ячейку результата клиента.
func (c *Client) Cell() *result.Cell {
	return c.cell
}

// Journal возвращает журнал клиента или nil.
func (c *Client) Journal() *journal.Journal {
	return c.journal
}

// Wait ждет завершения всех отправленных запросов.
func (c *Client) Wait(ctx context.Context) error {
	return c.dispatcher.Wait(ctx)
}

// Shutdown дожидается текущих запросов, отписывает ячейку и журнал и
// останавливает собственные реестры.
func (c *Client) Shutdown(ctx context.Context) error {
	var errs []error
	if err := c.dispatcher.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	c.unsubscribe()

	if err := c.closeRegistries(ctx); err != nil {
		errs = append(errs, err)
	}

	if c.journal != nil {
		if err := c.journal.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (c *Client) unsubscribe() {
	for _, unsub := range c.unsub {
		unsub()
	}
	c.unsub = nil
}

func (c *Client) closeRegistries(ctx context.Context) error {
	var errs []error
	if c.ownsEvents {
		if err := c.events.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ownsQueries {
		if err := c.queries.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// abort освобождает то, что New успел создать, и возвращает err.
func (c *Client) abort(err error) error {
	c.unsubscribe()
	if closeErr := c.closeRegistries(context.Background()); closeErr != nil {
		c.logger.Warn("не удалось освободить ресурсы клиента", slog.Any("error", closeErr))
	}
	return err
}
