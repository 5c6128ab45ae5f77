// Package metrics 以 Prometheus 格式导出 Agent 运行指标。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Statuses 是 agentkit_agent_status 指标导出的状态集合。
var Statuses = []string{"idle", "running", "paused", "error"}

// Collector 持有独立的 registry，同一进程内可以存在多个实例。
type Collector struct {
	registry        *prometheus.Registry
	actions         *prometheus.CounterVec
	gasUsed         *prometheus.HistogramVec
	duration        *prometheus.HistogramVec
	status          *prometheus.GaugeVec
	handlerFailures *prometheus.CounterVec
}

// NewCollector 注册 Agent 指标以及 Go 运行时指标。
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentkit_actions_total",
			Help: "Actions submitted by agents, by outcome.",
		}, []string{"agent", "action", "outcome"}),
		gasUsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentkit_action_gas_used",
			Help:    "Gas consumed by successful actions.",
			Buckets: []float64{21000, 30000, 40000, 50000, 75000, 100000, 250000, 500000, 1000000},
		}, []string{"agent"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentkit_action_duration_seconds",
			Help:    "Time from submission to confirmation.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"agent"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentkit_agent_status",
			Help: "1 for the agent's current lifecycle status, 0 otherwise.",
		}, []string{"agent", "status"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentkit_handler_failures_total",
			Help: "Event handlers that returned an error or panicked.",
		}, []string{"event"}),
	}
	c.registry.MustRegister(
		c.actions, c.gasUsed, c.duration, c.status, c.handlerFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveAction 记录一次动作提交。
func (c *Collector) ObserveAction(agent, action string, success bool, gasUsed uint64, elapsed time.Duration) {
	if c == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
		c.gasUsed.WithLabelValues(agent).Observe(float64(gasUsed))
	}
	c.actions.WithLabelValues(agent, action, outcome).Inc()
	c.duration.WithLabelValues(agent).Observe(elapsed.Seconds())
}

// SetStatus 将 status 标记为 Agent 当前的生命周期状态。
func (c *Collector) SetStatus(agent, status string) {
	if c == nil {
		return
	}
	for _, s := range Statuses {
		value := 0.0
		if s == status {
			value = 1
		}
		c.status.WithLabelValues(agent, s).Set(value)
	}
}

// HandlerFailed 统计一次失败的事件处理。
func (c *Collector) HandlerFailed(event string) {
	if c == nil {
		return
	}
	c.handlerFailures.WithLabelValues(event).Inc()
}

// Registry 返回底层 registry。
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler 以 Prometheus 文本格式输出指标。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer 在 addr 上提供 /metrics，直到 ctx 结束。
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("指标监听地址为空")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
