package trclog

import (
	"github.com/peterbourgon/trclog/internal/trcdebug"
)

// Stats are process-wide counters of conditions within tracing that are
// contained rather than reported to the traced program.
type Stats struct {
	Unrepresentable  uint64 `json:"unrepresentable"` // values rendered as Unrepresentable
	Orphans          uint64 `json:"orphans"`         // events in a fallback buffer
	Anomalies        uint64 `json:"anomalies"`       // terminal events at an unexpected depth
	DumpsProduced    uint64 `json:"dumps_produced"`
	DumpsFailed      uint64 `json:"dumps_failed"`
	ContextsCreated  uint64 `json:"contexts_created"`
	ContextsReleased uint64 `json:"contexts_released"`
	ContextsSwept    uint64 `json:"contexts_swept"`
}

// DebugStats returns the current values of the process-wide counters.
func DebugStats() Stats {
	return Stats{
		Unrepresentable:  trcdebug.Faults.Unrepresentable.Load(),
		Orphans:          trcdebug.Faults.Orphans.Load(),
		Anomalies:        trcdebug.Faults.Anomalies.Load(),
		DumpsProduced:    trcdebug.Dumps.Produced.Load(),
		DumpsFailed:      trcdebug.Dumps.Failed.Load(),
		ContextsCreated:  trcdebug.Contexts.Created.Load(),
		ContextsReleased: trcdebug.Contexts.Released.Load(),
		ContextsSwept:    trcdebug.Contexts.Swept.Load(),
	}
}
