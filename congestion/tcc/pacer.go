package tcc

import (
	"github.com/relaysfu/corertc/congestion"
	"github.com/relaysfu/corertc/probation"
	"github.com/relaysfu/corertc/rtppacket"
)

// defaultBudgetBytes is used when the controller's Pacer doesn't expose
// congestion.BudgetPacer, so padding/release still makes forward progress.
const defaultBudgetBytes = 1500

// Pacer owns the FIFO of outbound RTP packets awaiting release and wraps
// the controller's low-level Pacer for byte-budget timing, per
// spec.md §4.5: "owns a one-shot timer rearmed to
// pacer.TimeUntilNextProcess() after each pacer.Process() call [...] for
// each released packet, the client invokes the listener's
// SendRtpPacket(packet, pacingInfo). When the pacer needs padding, it
// calls GeneratePadding(size)".
type Pacer struct {
	inner      congestion.Pacer
	probation  *probation.Generator
	send       func(*rtppacket.View, congestion.PacingInfo)
	queue      []*rtppacket.View
}

func newPacer(inner congestion.Pacer, probationGen *probation.Generator, send func(*rtppacket.View, congestion.PacingInfo)) *Pacer {
	return &Pacer{inner: inner, probation: probationGen, send: send}
}

// Enqueue admits packet for rate-limited release and informs the
// controller's pacer of its size.
func (p *Pacer) Enqueue(packet *rtppacket.View) {
	p.inner.InsertPacket(packet.Size())
	p.queue = append(p.queue, packet)
}

// Process releases queued packets up to the current byte budget; if the
// budget still allows more and the queue ran dry, it generates one
// probation packet to keep the bandwidth prober moving.
func (p *Pacer) Process() {
	budget := p.budgetBytes()
	p.inner.Process()

	for budget > 0 && len(p.queue) > 0 {
		next := p.queue[0]
		p.queue = p.queue[1:]
		budget -= next.Size()
		p.send(next, p.inner.GetPacingInfo())
	}
	if budget > 0 && p.probation != nil {
		p.send(p.probation.GetNextPacket(), p.inner.GetPacingInfo())
	}
}

func (p *Pacer) TimeUntilNextProcess() int64 { return p.inner.TimeUntilNextProcess() }

func (p *Pacer) budgetBytes() int {
	if bp, ok := p.inner.(congestion.BudgetPacer); ok {
		return bp.BudgetBytes()
	}
	return defaultBudgetBytes
}
