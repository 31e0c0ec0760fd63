package ppdbg

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tusharrohilla/ppdbg/internal/fakeppsspp"
)

func TestFetchMatchList(t *testing.T) {
	fake := fakeppsspp.New()
	fake.SetMatchList([]fakeppsspp.MatchEntry{
		{IP: "192.168.1.4", Port: 45000, T: 1700000000},
		{IP: "::1", Port: 45001},
		{IP: "", Port: 45002},
		{IP: "10.0.0.9", Port: 0},
	})
	ts := httptest.NewServer(fake.Handler())
	defer ts.Close()

	got, err := fetchMatchList(context.Background(), ts.Client(), ts.URL+"/match/list")
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.1.4:45000", "[::1]:45001"}, got)

	t.Run("non-200", func(t *testing.T) {
		_, err := fetchMatchList(context.Background(), ts.Client(), ts.URL+"/nope")
		assert.Error(t, err)
	})

	t.Run("not json", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		defer bad.Close()
		_, err := fetchMatchList(context.Background(), bad.Client(), bad.URL)
		assert.Error(t, err)
	})
}

func TestDiscoverOrder(t *testing.T) {
	fake := fakeppsspp.New()
	fake.SetMatchList([]fakeppsspp.MatchEntry{
		{IP: "10.0.0.2", Port: 45000},
		{IP: "127.0.0.1", Port: 45000},
	})
	ts := httptest.NewServer(fake.Handler())
	defer ts.Close()

	cfg := DefaultConfig()
	cfg.MatchListURL = ts.URL + "/match/list"
	cfg.Candidates = []string{"127.0.0.1:45000", "localhost:45000"}
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t,
		[]string{"10.0.0.2:45000", "127.0.0.1:45000", "localhost:45000"},
		c.discover(context.Background()))

	t.Run("match list down", func(t *testing.T) {
		cfg.MatchListURL = ts.URL + "/nope"
		c, err := New(cfg)
		require.NoError(t, err)
		defer c.Close()
		assert.Equal(t, []string{"127.0.0.1:45000", "localhost:45000"}, c.discover(context.Background()))
	})
}
