package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGetter is a minimal paramstore.Getter stub.
type fakeGetter struct {
	val      string
	err      error
	failures int32
	calls    atomic.Int32
	lastName string
}

// GetParameter fails the first f.failures calls with f.err when failures is
// set, and every call otherwise.
func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	n := f.calls.Add(1)
	f.lastName = name
	if f.failures > 0 {
		if n <= f.failures {
			return "", f.err
		}
		return f.val, nil
	}
	return f.val, f.err
}

type recorded struct {
	path   string
	auth   string
	peer   string
	text   string
	ref    string
	method string
}

func newSidecar(t *testing.T, status int, reply string, got *recorded) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if got != nil {
			*got = recorded{
				path:   r.URL.Path,
				auth:   r.Header.Get("Authorization"),
				peer:   body["peer"],
				text:   body["text"],
				ref:    body["ref"],
				method: r.Method,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(" ", "@orders_bot")
	require.ErrorContains(t, err, "base url")

	_, err = NewClient("http://localhost:8787", "")
	require.ErrorContains(t, err, "peer")

	_, err = NewClient("http://localhost:8787", "@orders_bot", WithTokenFrom(&fakeGetter{}, " / "))
	require.ErrorContains(t, err, "prefix")

	c, err := NewClient("http://localhost:8787/", "@orders_bot")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8787", c.baseURL)
}

func TestClient_SendText_HappyPath(t *testing.T) {
	var got recorded
	srv := newSidecar(t, http.StatusOK, `{"ok":true}`, &got)
	defer srv.Close()

	c, err := NewClient(srv.URL, "@orders_bot")
	require.NoError(t, err)
	require.NoError(t, c.SendText(context.Background(), "60"))

	require.Equal(t, http.MethodPost, got.method)
	require.Equal(t, "/v1/messages", got.path)
	require.Equal(t, "@orders_bot", got.peer)
	require.Equal(t, "60", got.text)
	require.Empty(t, got.auth)
}

func TestClient_TriggerAccept_HappyPath(t *testing.T) {
	var got recorded
	srv := newSidecar(t, http.StatusOK, `{"ok":true}`, &got)
	defer srv.Close()

	c, err := NewClient(srv.URL, "@orders_bot")
	require.NoError(t, err)
	require.NoError(t, c.TriggerAccept(context.Background(), "cb:take:77"))

	require.Equal(t, "/v1/affordances/press", got.path)
	require.Equal(t, "cb:take:77", got.ref)
}

func TestClient_EmptyArguments(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", "@orders_bot")
	require.NoError(t, err)
	require.ErrorContains(t, c.SendText(context.Background(), " "), "text")
	require.ErrorContains(t, c.TriggerAccept(context.Background(), ""), "ref")
}

func TestClient_BearerTokenFetchedOnce(t *testing.T) {
	var got recorded
	srv := newSidecar(t, http.StatusOK, `{"ok":true}`, &got)
	defer srv.Close()

	g := &fakeGetter{val: `{"token":"sidecar-secret"}`}
	c, err := NewClient(srv.URL, "@orders_bot", WithTokenFrom(g, "/autograb/prod/"))
	require.NoError(t, err)

	require.NoError(t, c.SendText(context.Background(), "60"))
	require.NoError(t, c.SendText(context.Background(), "4200"))
	require.Equal(t, "Bearer sidecar-secret", got.auth)
	require.Equal(t, int32(1), g.calls.Load(), "SSM must only be called once per process lifetime")
	require.Equal(t, "/autograb/prod/bridge-token", g.lastName)
}

func TestClient_TokenFetchRetriedAfterFailure(t *testing.T) {
	var got recorded
	srv := newSidecar(t, http.StatusOK, `{"ok":true}`, &got)
	defer srv.Close()

	g := &fakeGetter{val: `{"token":"sidecar-secret"}`, err: errors.New("ssm throttled"), failures: 1}
	c, err := NewClient(srv.URL, "@orders_bot", WithTokenFrom(g, "/autograb"))
	require.NoError(t, err)

	require.ErrorContains(t, c.TriggerAccept(context.Background(), "take-1"), "ssm throttled")
	require.NoError(t, c.TriggerAccept(context.Background(), "take-1"))
	require.Equal(t, "Bearer sidecar-secret", got.auth)
	require.NoError(t, c.SendText(context.Background(), "60"))
	require.Equal(t, int32(2), g.calls.Load())
}

func TestClient_TokenErrors(t *testing.T) {
	cases := []struct {
		name string
		g    *fakeGetter
		want string
	}{
		{name: "getter error", g: &fakeGetter{err: errors.New("ssm unavailable")}, want: "ssm unavailable"},
		{name: "malformed json", g: &fakeGetter{val: `{"broken`}, want: "unmarshal"},
		{name: "empty token", g: &fakeGetter{val: `{"other":"value"}`}, want: "token is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient("http://127.0.0.1:1", "@orders_bot", WithTokenFrom(tc.g, "/autograb"))
			require.NoError(t, err)
			err = c.SendText(context.Background(), "60")
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestClient_Non2xx(t *testing.T) {
	srv := newSidecar(t, http.StatusTooManyRequests, `{"error":"flood wait"}`, nil)
	defer srv.Close()

	c, err := NewClient(srv.URL, "@orders_bot")
	require.NoError(t, err)
	err = c.SendText(context.Background(), "60")
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
	require.Contains(t, err.Error(), "flood wait")
}

func TestClient_NotAcknowledged(t *testing.T) {
	srv := newSidecar(t, http.StatusOK, `{"ok":false,"error":"button expired"}`, nil)
	defer srv.Close()

	c, err := NewClient(srv.URL, "@orders_bot")
	require.NoError(t, err)
	err = c.TriggerAccept(context.Background(), "cb:take:77")
	require.ErrorContains(t, err, "button expired")
}

func TestClient_InvalidJSON(t *testing.T) {
	srv := newSidecar(t, http.StatusOK, `not-a-json`, nil)
	defer srv.Close()

	c, err := NewClient(srv.URL, "@orders_bot")
	require.NoError(t, err)
	err = c.SendText(context.Background(), "60")
	require.ErrorContains(t, err, "decode response")
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "@orders_bot", WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	require.NoError(t, err)
	require.Error(t, c.SendText(context.Background(), "60"))
}

func TestClient_NetworkError(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", "@orders_bot", WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	require.NoError(t, err)
	err = c.SendText(context.Background(), "60")
	require.ErrorContains(t, err, "request failed")
}
