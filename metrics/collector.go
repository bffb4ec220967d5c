// Package metrics exposes the Prometheus counters, histograms, and gauges
// named in the orchestration platform's metrics contract.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector owns every metric the platform publishes. Construct one per
// process with New; it registers against prometheus.DefaultRegisterer.
type Collector struct {
	workflowExecutionsTotal *prometheus.CounterVec
	agentExecutionsTotal    *prometheus.CounterVec
	toolInvocationsTotal    *prometheus.CounterVec

	llmRequestsTotal      *prometheus.CounterVec
	llmPromptTokensTotal  *prometheus.CounterVec
	llmCompletionTokens   *prometheus.CounterVec
	llmLatency            *prometheus.HistogramVec
	stepDuration          *prometheus.HistogramVec

	eventBusBufferDepth        *prometheus.GaugeVec
	conversationManagerWaiting prometheus.Gauge

	logger *zap.Logger
}

// New constructs a Collector. namespace prefixes every metric name.
func New(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.workflowExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"workflow", "status"},
	)

	c.agentExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_executions_total",
			Help:      "Total number of deterministic agent executions by terminal status",
		},
		[]string{"agent", "status"},
	)

	c.toolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Total number of tool invocations by terminal status",
		},
		[]string{"tool", "status"},
	)

	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests by provider, model, and status",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmPromptTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_prompt_tokens_total",
			Help:      "Total prompt tokens consumed",
		},
		[]string{"provider", "model"},
	)

	c.llmCompletionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_completion_tokens_total",
			Help:      "Total completion tokens produced",
		},
		[]string{"provider", "model"},
	)

	c.llmLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "LLM request latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Flow step execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"workflow_id", "step_id"},
	)

	c.eventBusBufferDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_bus_buffer_depth",
			Help:      "Current queued-event count per event bus subscriber",
		},
		[]string{"subscriber"},
	)

	c.conversationManagerWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_manager_waiting",
			Help:      "Current number of conversations parked in Waiting status",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordWorkflowExecution records a workflow's terminal status.
func (c *Collector) RecordWorkflowExecution(workflow, status string) {
	c.workflowExecutionsTotal.WithLabelValues(workflow, status).Inc()
}

// RecordAgentExecution records a deterministic agent run's terminal status.
func (c *Collector) RecordAgentExecution(agent, status string) {
	c.agentExecutionsTotal.WithLabelValues(agent, status).Inc()
}

// RecordToolInvocation records a tool call's terminal status.
func (c *Collector) RecordToolInvocation(tool, status string) {
	c.toolInvocationsTotal.WithLabelValues(tool, status).Inc()
}

// RecordLLMRequest records one LLM call: its outcome, token usage, and
// latency.
func (c *Collector) RecordLLMRequest(provider, model, status string, promptTokens, completionTokens int, latency time.Duration) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmPromptTokensTotal.WithLabelValues(provider, model).Add(float64(promptTokens))
	c.llmCompletionTokens.WithLabelValues(provider, model).Add(float64(completionTokens))
	c.llmLatency.WithLabelValues(provider, model).Observe(latency.Seconds())
}

// RecordStepDuration records how long one flow step took.
func (c *Collector) RecordStepDuration(workflowID, stepID string, d time.Duration) {
	c.stepDuration.WithLabelValues(workflowID, stepID).Observe(d.Seconds())
}

// SetEventBusBufferDepth reports a subscriber's current queue depth.
func (c *Collector) SetEventBusBufferDepth(subscriber string, depth int) {
	c.eventBusBufferDepth.WithLabelValues(subscriber).Set(float64(depth))
}

// SetConversationManagerWaiting reports the conversation manager's current
// waiting count.
func (c *Collector) SetConversationManagerWaiting(n int) {
	c.conversationManagerWaiting.Set(float64(n))
}
