package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/alertlookup/alerts/dispatch"
	"github.com/x-research-team/alertlookup/alerts/result"
	"github.com/x-research-team/alertlookup/alerts/selector"
)

func newCatalog(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func TestHTTPFetcher_Success(t *testing.T) {
	t.Parallel()

	var gotPath, gotObject, gotAuth string
	srv := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotObject = r.URL.Query().Get("objectId")
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, `{"status":"success","data":[{"candid":1}]}`)
	})

	f, err := dispatch.NewHTTPFetcher(srv.URL, dispatch.WithHTTPClient(srv.Client()), dispatch.WithToken("secret"))
	require.NoError(t, err)

	resp, err := f.Fetch(context.Background(), selector.Select(selector.Params{ObjectID: "ZTF21abc"}))
	require.NoError(t, err)

	assert.True(t, resp.Succeeded())
	assert.JSONEq(t, `[{"candid":1}]`, string(resp.Data))
	assert.Equal(t, "/api/alerts", gotPath)
	assert.Equal(t, "ZTF21abc", gotObject)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestHTTPFetcher_ConeQueryOnWire(t *testing.T) {
	t.Parallel()

	var got map[string][]string
	srv := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"status":"success","data":[]}`)
	})

	f, err := dispatch.NewHTTPFetcher(srv.URL, dispatch.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), selector.Select(selector.Params{RA: "10.5", Dec: "+41.2", Radius: "5"}))
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{
		"ra":           {"10.5"},
		"dec":          {"+41.2"},
		"radius":       {"5"},
		"radius_units": {"arcsec"},
	}, got)
}

func TestHTTPFetcher_BasePathPrefix(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, `{"status":"success"}`)
	})

	f, err := dispatch.NewHTTPFetcher(srv.URL+"/kowalski/", dispatch.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), selector.Select(selector.Params{}))
	require.NoError(t, err)
	assert.Equal(t, "/kowalski/api/alerts", gotPath)
}

func TestHTTPFetcher_ServiceError(t *testing.T) {
	t.Parallel()

	srv := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"status":"error","message":"Invalid object ID"}`)
	})

	f, err := dispatch.NewHTTPFetcher(srv.URL, dispatch.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), selector.Select(selector.Params{ObjectID: "?"}))
	require.Error(t, err)

	var svcErr *dispatch.ServiceError
	require.True(t, errors.As(err, &svcErr), "ошибка конверта должна быть ServiceError")
	assert.Equal(t, "Invalid object ID", svcErr.Message)
	assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
	assert.Equal(t, "error", svcErr.Status)
}

func TestHTTPFetcher_Failures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		code int
		body string
	}{
		{name: "не JSON", code: http.StatusBadGateway, body: "<html>bad gateway</html>"},
		{name: "без status", code: http.StatusOK, body: `{"data":[]}`},
		{name: "пустое тело", code: http.StatusOK, body: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.code, tc.body)
			})
			f, err := dispatch.NewHTTPFetcher(srv.URL, dispatch.WithHTTPClient(srv.Client()))
			require.NoError(t, err)

			_, err = f.Fetch(context.Background(), selector.Select(selector.Params{}))
			require.Error(t, err)

			var svcErr *dispatch.ServiceError
			assert.False(t, errors.As(err, &svcErr), "сбой не должен классифицироваться как ошибка сервиса")
		})
	}
}

func TestHTTPFetcher_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	f, err := dispatch.NewHTTPFetcher(base, dispatch.WithTimeout(time.Second))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), selector.Select(selector.Params{}))
	require.Error(t, err)
}

func TestHTTPFetcher_TimeoutKeepsSharedClient(t *testing.T) {
	t.Parallel()

	srv := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		writeJSON(w, http.StatusOK, `{"status":"success","data":[]}`)
	})
	shared := srv.Client()
	before := shared.Timeout

	short, err := dispatch.NewHTTPFetcher(srv.URL, dispatch.WithHTTPClient(shared), dispatch.WithTimeout(10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, before, shared.Timeout, "таймаут не должен менять переданный клиент")

	_, err = short.Fetch(context.Background(), selector.Select(selector.Params{}))
	require.Error(t, err, "короткий таймаут прерывает медленный ответ")

	plain, err := dispatch.NewHTTPFetcher(srv.URL, dispatch.WithHTTPClient(shared))
	require.NoError(t, err)

	resp, err := plain.Fetch(context.Background(), selector.Select(selector.Params{}))
	require.NoError(t, err, "другой сборщик на том же клиенте не наследует таймаут")
	assert.True(t, resp.Succeeded())
}

func TestHTTPFetcher_RateLimit(t *testing.T) {
	t.Parallel()

	srv := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"success"}`)
	})

	f, err := dispatch.NewHTTPFetcher(srv.URL, dispatch.WithHTTPClient(srv.Client()), dispatch.WithRateLimit(0.01, 1))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), selector.Select(selector.Params{}))
	require.NoError(t, err, "первый запрос укладывается в лимит")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = f.Fetch(ctx, selector.Select(selector.Params{}))
	require.Error(t, err, "второй запрос должен упереться в лимит")
	assert.Contains(t, err.Error(), "ограничение частоты запросов")
}

func TestNewHTTPFetcher_InvalidURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"ftp://catalog", "http://", "://broken"} {
		_, err := dispatch.NewHTTPFetcher(raw)
		assert.Error(t, err, raw)
	}
}

func TestKowalskiURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://kowalski.caltech.edu:443", dispatch.KowalskiURL("https", "kowalski.caltech.edu", 443))
	assert.Equal(t, "http://localhost", dispatch.KowalskiURL("http", "localhost", 0))
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	req := selector.Select(selector.Params{ObjectID: "ZTF21abc"}).WithGeneration(7)

	t.Run("успех", func(t *testing.T) {
		ev := dispatch.Outcome(req, dispatch.Response{Status: "success", Data: json.RawMessage(`[1]`)}, nil)
		assert.Equal(t, result.KindOK, ev.Kind)
		assert.Equal(t, uint64(7), ev.Generation)
		assert.Equal(t, "/api/alerts?objectId=ZTF21abc", ev.Path)
		assert.JSONEq(t, `[1]`, string(ev.Payload))
	})

	t.Run("ошибка сервиса", func(t *testing.T) {
		err := &dispatch.ServiceError{StatusCode: 400, Status: "error", Message: "нет такого объекта"}
		ev := dispatch.Outcome(req, dispatch.Response{}, err)
		assert.Equal(t, result.KindError, ev.Kind)
		assert.Equal(t, "нет такого объекта", ev.Message)
	})

	t.Run("обернутая ошибка сервиса", func(t *testing.T) {
		err := &dispatch.ServiceError{Status: "error", Message: "x"}
		ev := dispatch.Outcome(req, dispatch.Response{}, errors.Join(errors.New("контекст"), err))
		assert.Equal(t, result.KindError, ev.Kind)
		assert.Equal(t, "x", ev.Message)
	})

	t.Run("сбой", func(t *testing.T) {
		ev := dispatch.Outcome(req, dispatch.Response{}, errors.New("connection reset"))
		assert.Equal(t, result.KindFail, ev.Kind)
		assert.Empty(t, ev.Message)
		assert.Nil(t, ev.Payload)
	})
}
