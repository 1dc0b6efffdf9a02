package okta

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](t *testing.T, s *stream[T]) []T {
	t.Helper()
	var out []T
	for {
		v, ok, err := s.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestStreamFollowsNextLinks(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.RawQuery {
		case "limit=2":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/apps?limit=2&after=a2>; rel="next"`, srv.URL))
			w.Write([]byte(`[{"id":"a1","label":"App One"},{"id":"a2","label":"App Two"}]`))
		case "limit=2&after=a2":
			w.Write([]byte(`[{"id":"a3","label":"App Three"}]`))
		default:
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.accessToken = "tok"

	s := newStream[wireApp](c.getPage, c.listURL("/api/v1/apps"))
	apps := drain(t, s)
	require.Len(t, apps, 3)
	assert.Equal(t, "a1", apps[0].ID)
	assert.Equal(t, "a3", apps[2].ID)

	// Exhaustion is a stable terminal state.
	_, ok, err := s.Next(context.Background())
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestStreamFirstErrorIsTerminal(t *testing.T) {
	var calls int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.RawQuery == "limit=2" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/apps?limit=2&after=a2>; rel="next"`, srv.URL))
			w.Write([]byte(`[{"id":"a1"},{"id":"a2"}]`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errorCode":"E0000007","errorSummary":"Not found"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.accessToken = "tok"

	s := newStream[wireApp](c.getPage, c.listURL("/api/v1/apps"))
	_, ok, err := s.Next(context.Background())
	require.True(t, ok)
	require.NoError(t, err)
	_, ok, err = s.Next(context.Background())
	require.True(t, ok)
	require.NoError(t, err)

	_, ok, err = s.Next(context.Background())
	assert.False(t, ok)
	require.Error(t, err)

	// No further fetches after the terminal error.
	before := atomic.LoadInt32(&calls)
	_, ok, err2 := s.Next(context.Background())
	assert.False(t, ok)
	assert.Equal(t, err, err2)
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}
