package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/x-research-team/alertlookup/alerts/selector"
)

const (
	// DefaultTimeout ограничивает один запрос к каталогу.
	DefaultTimeout = 30 * time.Second

	maxBodySize = 32 << 20
)

// Fetcher выполняет один запрос к каталогу.
type Fetcher interface {
	Fetch(ctx context.Context, req selector.Request) (Response, error)
}

// FetcherFunc позволяет использовать функцию как Fetcher.
type FetcherFunc func(ctx context.Context, req selector.Request) (Response, error)

// Fetch реализует Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req selector.Request) (Response, error) {
	return f(ctx, req)
}

// HTTPOption настраивает HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithToken добавляет заголовок Authorization: Bearer <token>.
func WithToken(token string) HTTPOption {
	return func(f *HTTPFetcher) {
		f.token = token
	}
}

// WithTimeout задает таймаут запросов. Клиент из WithHTTPClient не
// изменяется: таймаут применяется к его копии.
func WithTimeout(d time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.timeout = d
		f.hasTimeout = true
	}
}

// WithRateLimit ограничивает частоту запросов к каталогу.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(f *HTTPFetcher) {
		if rps <= 0 {
			f.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// HTTPFetcher выполняет GET <base><path>?<query> и разбирает конверт ответа.
type HTTPFetcher struct {
	base    *url.URL
	client  *http.Client
	token   string
	limiter *rate.Limiter

	timeout    time.Duration
	hasTimeout bool
}

// NewHTTPFetcher создает HTTPFetcher для каталога по адресу baseURL.
func NewHTTPFetcher(baseURL string, opts ...HTTPOption) (*HTTPFetcher, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("некорректный адрес каталога '%s': %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("неподдерживаемая схема адреса каталога '%s'", base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("в адресе каталога '%s' не указан хост", baseURL)
	}

	f := &HTTPFetcher{
		base:   base,
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.hasTimeout {
		client := *f.client
		client.Timeout = f.timeout
		f.client = &client
	}
	return f, nil
}

// KowalskiURL собирает базовый адрес каталога из протокола, хоста и порта.
// Нулевой порт не указывается.
func KowalskiURL(protocol, host string, port int) string {
	u := url.URL{Scheme: protocol, Host: host}
	if port > 0 {
		u.Host = host + ":" + strconv.Itoa(port)
	}
	return u.String()
}

// Fetch реализует Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, req selector.Request) (Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return Response{}, fmt.Errorf("ограничение частоты запросов: %w", err)
		}
	}

	target := req.URL(f.base).String()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Response{}, fmt.Errorf("не удалось создать запрос '%s': %w", target, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if f.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.token)
	}

	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("не удалось выполнить запрос '%s': %w", target, err)
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxBodySize)).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("не удалось декодировать ответ (HTTP %d): %w", httpResp.StatusCode, err)
	}
	if resp.Status == "" {
		return Response{}, fmt.Errorf("в ответе отсутствует поле status (HTTP %d)", httpResp.StatusCode)
	}
	if !resp.Succeeded() {
		return resp, &ServiceError{
			StatusCode: httpResp.StatusCode,
			Status:     resp.Status,
			Message:    resp.Message,
		}
	}
	return resp, nil
}
