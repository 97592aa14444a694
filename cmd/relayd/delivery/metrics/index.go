package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskdeck/eventrelay/cmd/relayd/utils"
)

const metricsEndpoint = "/metrics"

// StartMetricsServer starts the Prometheus metrics server on the given port.
func StartMetricsServer(port int) {
	logger := utils.GetAppLogger()
	go func() {
		logger.Infof("Starting Prometheus metrics server on :%d", port)
		http.Handle(metricsEndpoint, promhttp.Handler())
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Prometheus metrics server error: %v", err)
		}
	}()
}
