package mock

import (
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

// Start runs a Server over TLS for the duration of the test and returns it
// together with its host and port.
func Start(t testing.TB, opts Options) (*Server, string, int) {
	t.Helper()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	ts := httptest.NewTLSServer(s.Handler())
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("mock: parse url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("mock: split host: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("mock: port: %v", err)
	}
	return s, host, port
}
