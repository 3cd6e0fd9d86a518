package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tommyca/spotengine/pkg/logging"
)

func testLogger(t *testing.T) *logging.ZapLogger {
	t.Helper()
	l, err := logging.NewZapLogger("FATAL")
	require.NoError(t, err)
	return l
}

// freePort asks the OS for an ephemeral port, then releases it immediately so
// Server.Start can rebind it; there is an unavoidable small race but it is
// the same approach net/http's own tests use for ListenAndServe coverage.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestServer_ServesPrometheusMetricsEndpoint(t *testing.T) {
	port := freePort(t)
	s := NewServer(port, testLogger(t))
	s.Start()
	defer func() { _ = s.Stop(context.Background()) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
	var resp *http.Response
	var err error
	require.Eventually(t, func() bool {
		resp, err = http.Get(url)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StopBeforeStartIsNoop(t *testing.T) {
	s := NewServer(freePort(t), testLogger(t))
	require.NoError(t, s.Stop(context.Background()))
}

func TestServer_StopShutsDownCleanly(t *testing.T) {
	port := freePort(t)
	s := NewServer(port, testLogger(t))
	s.Start()

	require.Eventually(t, func() bool {
		_, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))

	_, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.Error(t, err, "server must no longer accept connections after Stop")
}
