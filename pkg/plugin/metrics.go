package plugin

import "time"

// Outcome labels for recorded operations
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics receives plugin lifecycle measurements
type Metrics interface {
	InstallCompleted(source SourceType, outcome string, duration time.Duration)
	ActivationCompleted(plugin, outcome string, duration time.Duration)
	PluginsDiscovered(count int)
}

type nopMetrics struct{}

func (nopMetrics) InstallCompleted(SourceType, string, time.Duration) {}
func (nopMetrics) ActivationCompleted(string, string, time.Duration)  {}
func (nopMetrics) PluginsDiscovered(int)                              {}

func orNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
