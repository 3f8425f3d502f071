package turn

import (
	"time"

	"halcyon/voice/internal/protocol"
)

// Telemetry tracks per-session counters surfaced on the wire every five
// completed turns and on request.
type Telemetry struct {
	CompletedTurns        int
	SpeculativelyCanceled int
	Interruptions         int
	TokensWasted          int
	BufferOverflows       int

	latencies []time.Duration // final transcript -> first audio chunk, last 10
}

func (t *Telemetry) RecordLatency(d time.Duration) {
	t.latencies = append(t.latencies, d)
	if len(t.latencies) > 10 {
		t.latencies = t.latencies[len(t.latencies)-10:]
	}
}

func (t *Telemetry) AvgTurnLatencyMs() int64 {
	if len(t.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range t.latencies {
		sum += d
	}
	return (sum / time.Duration(len(t.latencies))).Milliseconds()
}

func (t *Telemetry) TotalTurns() int {
	return t.CompletedTurns + t.SpeculativelyCanceled + t.Interruptions
}

// Snapshot builds the wire telemetry message.
func (t *Telemetry) Snapshot(cancellationRate float64, debounce time.Duration) protocol.Telemetry {
	return protocol.Telemetry{
		Type:              "telemetry",
		CancellationRate:  cancellationRate,
		AvgDebounceMs:     int(debounce.Milliseconds()),
		TurnLatencyMs:     t.AvgTurnLatencyMs(),
		TotalTurns:        t.TotalTurns(),
		TokensWasted:      t.TokensWasted,
		InterruptionCount: t.Interruptions,
	}
}
