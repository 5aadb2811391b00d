// Package metrics exposes the fleet's Prometheus gauges and counters per
// SPEC_FULL.md §4.15: active agents by role/status, scheduler queue depth,
// healthcheck recovery counts, and cost totals by CLI, served over
// /metrics when MCP_METRICS_ADDR is set. Grounded on
// _examples/cuemby-warren/pkg/metrics/metrics.go's package-level
// prometheus.NewGaugeVec/MustRegister idiom.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/multi-agent-mcp/orchestrator/internal/dashboard"
	"github.com/multi-agent-mcp/orchestrator/internal/obslog"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

var (
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_agents_total",
			Help: "Number of registered agents by role and status.",
		},
		[]string{"role", "status"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_scheduler_queue_depth",
			Help: "Number of tasks waiting in the scheduler's priority heap.",
		},
	)

	RecoveriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_healthcheck_recoveries_total",
			Help: "Total number of successful Worker full-recovery cycles.",
		},
	)

	CostUSDTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_cost_usd_total",
			Help: "Cumulative recorded cost in USD by AI CLI.",
		},
		[]string{"ai_cli"},
	)

	APICallsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_api_calls_total",
			Help: "Cumulative recorded API calls by AI CLI.",
		},
		[]string{"ai_cli"},
	)

	MCPToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_mcp_tool_calls_total",
			Help: "Total number of MCP tool invocations by tool name and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	MCPToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_mcp_tool_call_duration_seconds",
			Help:    "MCP tool call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
)

func init() {
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(RecoveriesTotal)
	prometheus.MustRegister(CostUSDTotal)
	prometheus.MustRegister(APICallsTotal)
	prometheus.MustRegister(MCPToolCallsTotal)
	prometheus.MustRegister(MCPToolCallDuration)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an MCP tool call and records it against MCPToolCallDuration
// and MCPToolCallsTotal on Observe.
type Timer struct {
	tool  string
	start time.Time
}

// NewTimer starts timing a call to the named tool.
func NewTimer(tool string) *Timer {
	return &Timer{tool: tool, start: time.Now()}
}

// Observe records the elapsed duration and outcome ("ok" or "error").
func (t *Timer) Observe(outcome string) {
	MCPToolCallDuration.WithLabelValues(t.tool).Observe(time.Since(t.start).Seconds())
	MCPToolCallsTotal.WithLabelValues(t.tool, outcome).Inc()
}

// AgentSnapshot is the subset of agentmanager.Manager this package depends
// on for the fleet-composition gauge.
type AgentSnapshot interface {
	All() []*types.Agent
}

// SchedulerSnapshot is the subset of scheduler.Scheduler this package
// depends on for the queue-depth gauge.
type SchedulerSnapshot interface {
	QueueDepth() int
}

// HealthcheckSnapshot is the subset of healthcheck.Manager this package
// depends on for the recovery counter.
type HealthcheckSnapshot interface {
	RecoveryCount() int64
}

// DashboardSnapshot is the subset of dashboard.Store this package depends
// on for the cost gauges.
type DashboardSnapshot interface {
	GetCostEstimate() (*dashboard.CostEstimate, error)
}

// Collector periodically refreshes the gauges above from the live
// in-memory managers. Counters (MCPToolCallsTotal) are not refreshed here;
// they change only through Timer.Observe, and no tool handler in mcpserver
// creates a Timer.
type Collector struct {
	Agents      AgentSnapshot
	Scheduler   SchedulerSnapshot
	Healthcheck HealthcheckSnapshot
	Dashboard   DashboardSnapshot
}

// NewCollector builds a Collector over the given live managers. Any field
// may be nil to skip that gauge family.
func NewCollector(agents AgentSnapshot, sched SchedulerSnapshot, hc HealthcheckSnapshot, dash DashboardSnapshot) *Collector {
	return &Collector{Agents: agents, Scheduler: sched, Healthcheck: hc, Dashboard: dash}
}

// Refresh snapshots every wired source into its gauge. Errors from the
// dashboard's cost estimate are logged and otherwise ignored, since a
// stale metric is preferable to crashing the collection loop.
func (c *Collector) Refresh() {
	if c.Agents != nil {
		counts := map[[2]string]int{}
		for _, a := range c.Agents.All() {
			counts[[2]string{string(a.Role), string(a.Status)}]++
		}
		AgentsTotal.Reset()
		for k, n := range counts {
			AgentsTotal.WithLabelValues(k[0], k[1]).Set(float64(n))
		}
	}
	if c.Scheduler != nil {
		QueueDepth.Set(float64(c.Scheduler.QueueDepth()))
	}
	if c.Healthcheck != nil {
		RecoveriesTotal.Set(float64(c.Healthcheck.RecoveryCount()))
	}
	if c.Dashboard != nil {
		est, err := c.Dashboard.GetCostEstimate()
		if err != nil {
			obslog.ForComponent(obslog.CompMetrics).Error("metrics: cost estimate refresh failed", "error", err)
			return
		}
		CostUSDTotal.Reset()
		APICallsTotal.Reset()
		for cli, n := range est.CallsByCLI {
			APICallsTotal.WithLabelValues(string(cli)).Set(float64(n))
		}
		CostUSDTotal.WithLabelValues("total").Set(est.EstimatedCostUSD)
	}
}

// RunCollectLoop refreshes the gauges every interval until ctx is done.
func RunCollectLoop(ctx context.Context, c *Collector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.Refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh()
		}
	}
}

// Serve starts the /metrics HTTP server on addr, blocking until ctx is
// done or the server errors. If addr is empty, metrics are disabled and
// Serve returns nil immediately, per MCP_METRICS_ADDR's empty-disables
// convention.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
