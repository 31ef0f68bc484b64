package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/lattisledger/lattis/common"
)

var logger *log.Entry = log.WithFields(log.Fields{"prefix": "metrics"})

// Start serves the Prometheus exposition endpoint if an address is
// configured, and shuts it down when ctx ends. A blank address disables the
// server.
func Start(ctx context.Context) {
	addr := viper.GetString(common.CfgMetricsServer)
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.WithFields(log.Fields{"address": addr}).Info("Serving metrics")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithFields(log.Fields{"error": err}).Error("Metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
}
