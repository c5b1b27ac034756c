package health

import (
	"fmt"
	"net"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StartHealthServer serves /healthz and, when gatherer is non-nil, /metrics on
// addr. It returns once the listener is bound; the server runs until shut down.
func StartHealthServer(addr string, gatherer prometheus.Gatherer) (*http.Server, net.Listener, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "OK")
	})
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("health listen: %w", err)
	}

	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("Health server stopped", "err", err)
		}
	}()
	return server, ln, nil
}
