package api

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_recordedByCalls(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/fail" {
			_, _ = w.Write([]byte(`{"error":"nope"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":"ok"}`))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	const typ = "metrics-test"
	success := ooseRequestsTotal.WithLabelValues(typ, "/ok", "success")
	userErr := ooseRequestsTotal.WithLabelValues(typ, "/fail", "user_error")
	hits := ooseCacheTotal.WithLabelValues("hit")
	misses := ooseCacheTotal.WithLabelValues("miss")
	successBefore, userBefore := testutil.ToFloat64(success), testutil.ToFloat64(userErr)
	hitsBefore, missesBefore := testutil.ToFloat64(hits), testutil.ToFloat64(misses)

	cache := NewCache(DefaultConfig(), nil)
	opts := Options{Host: host, Port: port}
	c, err := cache.Get(typ, opts)
	require.NoError(t, err)
	again, err := cache.Get(typ, opts)
	require.NoError(t, err)
	require.Same(t, c, again)

	ctx := context.Background()
	require.NoError(t, c.Call(ctx, "/ok", nil, nil))
	require.NoError(t, c.Call(ctx, "/ok", nil, nil))
	require.True(t, IsUser(c.Call(ctx, "/fail", nil, nil)))

	require.Equal(t, successBefore+2, testutil.ToFloat64(success))
	require.Equal(t, userBefore+1, testutil.ToFloat64(userErr))
	require.Equal(t, missesBefore+1, testutil.ToFloat64(misses))
	require.GreaterOrEqual(t, testutil.ToFloat64(hits), hitsBefore+1)
}

func TestMetrics_resultLabel(t *testing.T) {
	require.Equal(t, "success", resultLabel(nil))
	require.Equal(t, "user_error", resultLabel(UserError("x")))
	require.Equal(t, "network_error", resultLabel(NetworkError(context.DeadlineExceeded)))
	require.Equal(t, "not_found", resultLabel(NotFoundError("x", nil)))
	require.Equal(t, "error", resultLabel(context.Canceled))

	renewals := ooseSessionRenewalsTotal.WithLabelValues("user_error")
	before := testutil.ToFloat64(renewals)
	RecordRenewal(UserError("Invalid session"))
	require.Equal(t, before+1, testutil.ToFloat64(renewals))
}
