package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/aescanero/modkernel/pkg/domain"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordProcessSubmitted("module:acme:db:1.0.0:start")
	c.RecordProcessSubmitted("module:acme:web:2.0.0:start")
	c.RecordProcessCompleted("kernel:start", "succeeded", time.Millisecond)
	c.RecordLifecycleTransition(domain.StateResolved, domain.StateStarting)
	c.RecordModuleBusy()
	c.SetModuleCount(domain.StateActive, 3)
	c.RecordWorkerPoolStatus(2, 1, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.processesSubmitted.WithLabelValues("module:start")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.processesCompleted.WithLabelValues("kernel:start", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lifecycleTransition.WithLabelValues("Resolved", "Starting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.moduleBusy))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.modules.WithLabelValues("Active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workerPoolBusy))
}

func TestMetricName(t *testing.T) {
	assert.Equal(t, "module:stop", metricName("module:acme:db:1.0.0:stop"))
	assert.Equal(t, "kernel:stop", metricName("kernel:stop"))
	assert.Equal(t, "install", metricName("install"))
}
