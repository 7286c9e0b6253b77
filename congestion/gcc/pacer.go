package gcc

import "github.com/relaysfu/corertc/congestion"

// pacer is the byte-budget half of the pacing contract (spec.md §6.4):
// it counts the bytes admitted since the last Process() tick and reports
// the per-tick byte budget the current bitrate allows (BudgetBytes). It
// does not own or release actual packets — that queue lives in
// congestion/tcc's Pacer, which wraps this one for the bitrate-derived
// budget math.
type pacer struct {
	c           *controller
	insertedBytes int
	probeCluster  int
}

func (p *pacer) InsertPacket(bytes int) {
	p.insertedBytes += bytes
}

// Process resets the per-tick byte counter; the controller's current
// bitrate estimate is what congestion/tcc.Pacer consults to decide how
// many queued bytes it may release before the next tick.
func (p *pacer) Process() {
	p.insertedBytes = 0
}

func (p *pacer) TimeUntilNextProcess() int64 {
	return pacerProcessIntervalMs
}

func (p *pacer) GetPacingInfo() congestion.PacingInfo {
	return congestion.PacingInfo{ProbeClusterID: p.probeCluster}
}

// BudgetBytes returns how many bytes the current bitrate estimate allows
// to be released over one pacerProcessIntervalMs tick.
func (p *pacer) BudgetBytes() int {
	bitsPerTick := float64(p.c.bitrate) * float64(pacerProcessIntervalMs) / 1000
	return int(bitsPerTick / 8)
}
