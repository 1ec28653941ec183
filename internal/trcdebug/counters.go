package trcdebug

import "sync/atomic"

// FaultCounters track conditions that tracing contains rather than reports.
type FaultCounters struct {
	Unrepresentable atomic.Uint64 // values whose rendering failed
	Orphans         atomic.Uint64 // events routed to the fallback buffer
	Anomalies       atomic.Uint64 // terminal events at an unexpected depth
}

// DumpCounters track dumps produced by delegating loggers.
type DumpCounters struct {
	Produced atomic.Uint64
	Failed   atomic.Uint64
}

// RegistryCounters track execution context lifecycles.
type RegistryCounters struct {
	Created  atomic.Uint64
	Released atomic.Uint64
	Swept    atomic.Uint64
}

var (
	// Faults is the process-wide set of fault counters.
	Faults FaultCounters

	// Dumps is the process-wide set of dump counters.
	Dumps DumpCounters

	// Contexts is the process-wide set of registry counters.
	Contexts RegistryCounters
)
