package monitor

import (
	"TryOnServer/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Counters are usable before StartMon; they are only exported once registered.
var (
	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})
	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
	Cycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "preview_cycles_total",
		Help: "Composited preview cycles",
	})
	StaleResults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "preview_stale_results_total",
		Help: "Pose estimates discarded because the frame source changed while they were in flight",
	})
	OverlayOmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "preview_overlay_omitted_total",
		Help: "Cycles drawn without a garment because the shoulders were missing or not confident",
	})
	EstimateErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "preview_estimate_errors_total",
		Help: "Pose estimates that failed",
	})
)

// Registry returns a fresh registry holding every collector of this package.
func Registry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(memUsage, cpuUsage, GRPCTotal, Cycles, StaleResults, OverlayOmitted, EstimateErrors)
	return registry
}

func newServer(port int) *http.Server {
	registry := Registry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}

func checkProcessInfo(proc *process.Process) {
	memInfo, err := proc.MemoryInfo()
	if err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	cpuPercent, err := proc.CPUPercent()
	if err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and samples the process until ctx ends.
func StartMon(port int, ctx context.Context) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Log().Error("process handle for metrics", zap.Error(err))
		return
	}
	srv := newServer(port)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("metrics server stopped", zap.Error(err))
		}
	}()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			checkProcessInfo(proc)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Warn("metrics server shutdown", zap.Error(err))
	}
}
