package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptLoader(t *testing.T) {
	sdk := NewHostedSDK("")

	t.Run("NoScript", func(t *testing.T) {
		got, err := NewScriptLoader("", sdk, nil).Load(context.Background())
		require.NoError(t, err)
		assert.Same(t, sdk, got)
	})

	t.Run("Fetched", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("window.Razorpay = function() {}"))
		}))
		t.Cleanup(srv.Close)

		got, err := NewScriptLoader(srv.URL, sdk, srv.Client()).Load(context.Background())
		require.NoError(t, err)
		assert.Same(t, sdk, got)
	})

	t.Run("Blocked", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		t.Cleanup(srv.Close)

		_, err := NewScriptLoader(srv.URL, sdk, srv.Client()).Load(context.Background())
		require.ErrorContains(t, err, "unexpected status 403")
	})

	t.Run("Unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		b := NewBridge(NewScriptLoader(url, sdk, nil))
		assert.False(t, b.EnsureLoaded(context.Background()))
	})
}
