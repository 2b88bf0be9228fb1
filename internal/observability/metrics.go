package observability

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	metricsServer *http.Server

	// metricsPort stores the port the dedicated /metrics listener bound to
	metricsPort int
)

// InitMetrics starts a dedicated Prometheus listener on port (0 picks a free
// port). The main router serves /metrics regardless.
func InitMetrics(port int) error {
	if port < 0 {
		port = 0
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	if actual, err := resolvePort(ln.Addr().String()); err == nil {
		metricsPort = actual
	} else {
		metricsPort = port
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && ServerLogger != nil {
			ServerLogger.Error("Metrics listener stopped", zap.Error(err))
		}
	}()
	return nil
}

// StopMetrics closes the dedicated listener, if running.
func StopMetrics() error {
	if metricsServer == nil {
		return nil
	}
	err := metricsServer.Close()
	metricsServer = nil
	return err
}

// GetMetricsPort returns the port the Prometheus listener is bound to
func GetMetricsPort() int {
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, err
	}
	return port, nil
}
