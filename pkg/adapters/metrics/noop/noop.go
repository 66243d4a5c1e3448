// Package noop provides a MetricsCollector that discards everything
package noop

import (
	"time"

	"github.com/aescanero/modkernel/pkg/domain"
)

// Collector discards all metrics
type Collector struct{}

// NewCollector creates a no-op collector
func NewCollector() *Collector { return &Collector{} }

func (*Collector) RecordProcessSubmitted(string)                        {}
func (*Collector) RecordProcessCompleted(string, string, time.Duration) {}
func (*Collector) RecordPhaseExecuted(string, string, time.Duration)    {}
func (*Collector) RecordLifecycleTransition(domain.State, domain.State) {}
func (*Collector) RecordRequest(domain.Action, string)                  {}
func (*Collector) RecordModuleBusy()                                    {}
func (*Collector) SetModuleCount(domain.State, int)                     {}
func (*Collector) RecordWorkerPoolStatus(int, int, int)                 {}
func (*Collector) RecordEventDelivered(bool)                            {}
func (*Collector) SetTrackersActive(int)                                {}
