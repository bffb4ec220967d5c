package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNew_RegistersAllMetrics(t *testing.T) {
	c := New(nextTestNamespace(), nil)

	assert.NotNil(t, c.workflowExecutionsTotal)
	assert.NotNil(t, c.agentExecutionsTotal)
	assert.NotNil(t, c.toolInvocationsTotal)
	assert.NotNil(t, c.llmRequestsTotal)
	assert.NotNil(t, c.llmLatency)
	assert.NotNil(t, c.stepDuration)
	assert.NotNil(t, c.eventBusBufferDepth)
	assert.NotNil(t, c.conversationManagerWaiting)
}

func TestCollector_RecordWorkflowExecution(t *testing.T) {
	c := New(nextTestNamespace(), nil)
	c.RecordWorkflowExecution("echo-flow", "Completed")
	assert.Greater(t, testutil.CollectAndCount(c.workflowExecutionsTotal), 0)
}

func TestCollector_RecordLLMRequest(t *testing.T) {
	c := New(nextTestNamespace(), nil)
	c.RecordLLMRequest("openai", "gpt-4", "Completed", 100, 50, 500*time.Millisecond)

	assert.Greater(t, testutil.CollectAndCount(c.llmRequestsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(c.llmPromptTokensTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(c.llmCompletionTokens), 0)
	assert.Greater(t, testutil.CollectAndCount(c.llmLatency), 0)
}

func TestCollector_RecordStepDuration(t *testing.T) {
	c := New(nextTestNamespace(), nil)
	c.RecordStepDuration("wf-1", "step-1", 20*time.Millisecond)
	assert.Greater(t, testutil.CollectAndCount(c.stepDuration), 0)
}

func TestCollector_GaugesReflectLastValue(t *testing.T) {
	c := New(nextTestNamespace(), nil)
	c.SetEventBusBufferDepth("subscriber-a", 3)
	c.SetConversationManagerWaiting(2)

	assert.Equal(t, float64(3), testutil.ToFloat64(c.eventBusBufferDepth.WithLabelValues("subscriber-a")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.conversationManagerWaiting))

	c.SetConversationManagerWaiting(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.conversationManagerWaiting))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := New(nextTestNamespace(), nil)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			c.RecordWorkflowExecution("wf", "Completed")
			c.RecordToolInvocation("search", "Completed")
			c.RecordLLMRequest("openai", "gpt-4", "Completed", 10, 5, time.Millisecond)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Greater(t, testutil.CollectAndCount(c.workflowExecutionsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(c.toolInvocationsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(c.llmRequestsTotal), 0)
}
