package nack

import (
	"github.com/relaysfu/corertc/clock"
	"github.com/relaysfu/corertc/logger"
)

var log = logger.New("nack")

const (
	maxPacketAge    = 10000
	maxNackPackets  = 1000
	maxNackRetries  = 10
	defaultRttMs    = 100
	checkIntervalMs = 40
)

// ReceiverListener is notified when the Receiver wants a NACK or PLI sent,
// replacing the teacher's direct rtcp.Packet construction so this package
// stays free of the wire codec (spec.md §9 "single capability contract").
type ReceiverListener interface {
	SendNack(seqs []uint16)
	SendPictureLossIndication()
}

type packetInfo struct {
	seq       uint16
	sentAtMs  int64
	sentAtSeq uint16
	retries   int
}

// Receiver runs a bounded, keyframe-aware NACK list for one inbound
// (producer) stream: packets assumed lost are retried with backoff until recovered,
// retransmitted via RTX, or the list overflows (at which point it falls
// back to requesting a full key frame rather than growing without bound),
// grounded on the teacher's nack.receiver (rtc/nack/receiver.go) but
// driven by a clock.Scheduler tick instead of a background goroutine.
type Receiver struct {
	listener    ReceiverListener
	sched       clock.Scheduler
	timer       clock.Handle
	rttMs       int64
	lastSeq     uint16
	hasLastSeq  bool
	nackList    []*packetInfo
	keyframes   []uint16
	recoverList []uint16
}

// NewReceiver starts the Receiver's periodic NACK-batch check.
func NewReceiver(sched clock.Scheduler, listener ReceiverListener) *Receiver {
	r := &Receiver{listener: listener, sched: sched, rttMs: defaultRttMs}
	r.timer = sched.EveryFunc(checkIntervalMs, r.onTick)
	return r
}

// UpdateRTT adjusts the retry interval to track the measured RTT.
func (r *Receiver) UpdateRTT(rttMs int64) { r.rttMs = rttMs }

// Close stops the periodic check timer.
func (r *Receiver) Close() { r.sched.Stop(r.timer) }

// IncomingPacket reports one arrived RTP packet's sequence number,
// keyframe flag and RTX flag.
func (r *Receiver) IncomingPacket(seq uint16, isKeyFrame, isRTX bool) {
	if !r.hasLastSeq {
		r.hasLastSeq = true
		r.lastSeq = seq
		if isKeyFrame {
			r.keyframes = append(r.keyframes, seq)
		}
		return
	}
	r.receive(seq, isKeyFrame, isRTX)
}

func isSeqLowerThan(seq, seq2 uint16) bool {
	return seq2 > seq && seq2-seq <= 0x7FFF || seq > seq2 && seq-seq2 > 0x7FFF
}

func (r *Receiver) receive(seq uint16, isKeyFrame, isRTX bool) {
	if seq == r.lastSeq {
		return
	}
	if isSeqLowerThan(seq, r.lastSeq) {
		for i, v := range r.nackList {
			if v.seq == seq {
				r.nackList = append(r.nackList[:i], r.nackList[i+1:]...)
				break
			}
		}
		return
	}

	if isKeyFrame {
		r.keyframes = append(r.keyframes, seq)
	}
	for i, v := range r.keyframes {
		if v >= seq-maxPacketAge {
			r.keyframes = r.keyframes[i:]
			break
		}
	}

	if isRTX {
		r.recoverList = append(r.recoverList, seq)
		for i, v := range r.recoverList {
			if v >= seq-maxPacketAge {
				r.recoverList = r.recoverList[i:]
				break
			}
		}
		return
	}

	r.addToNackList(r.lastSeq+1, seq)
	r.lastSeq = seq

	if batch := r.nackBatch(false); len(batch) != 0 {
		r.listener.SendNack(batch)
	}
}

func (r *Receiver) addToNackList(expected, seq uint16) {
	index := 0
	for i, v := range r.nackList {
		if seq-v.seq > maxPacketAge {
			continue
		}
		index = i
		break
	}
	r.nackList = r.nackList[index:]

	newCount := int(seq - expected)
	if len(r.nackList)+newCount > maxNackPackets {
		for r.removeUntilKeyFrame() && len(r.nackList)+newCount > maxNackPackets {
		}
		if len(r.nackList)+newCount > maxNackPackets {
			log.Warn("nack list overflow after keyframe pruning, requesting key frame")
			r.nackList = r.nackList[:0]
			r.listener.SendPictureLossIndication()
			return
		}
	}

	for i := expected; i != seq; i++ {
		recovered := false
		for _, v := range r.recoverList {
			if v == i {
				recovered = true
				break
			}
		}
		if recovered {
			continue
		}
		r.nackList = append(r.nackList, &packetInfo{seq: i, sentAtSeq: i})
	}
}

func (r *Receiver) nackBatch(onTimer bool) []uint16 {
	var batch []uint16
	nowMs := r.sched.Now()
	kept := make([]*packetInfo, 0, len(r.nackList))
	for _, p := range r.nackList {
		due := (onTimer && nowMs-p.sentAtMs >= r.rttMs) ||
			(p.sentAtMs == 0 && (p.sentAtSeq == r.lastSeq || isSeqLowerThan(p.sentAtSeq, r.lastSeq)))
		if due {
			batch = append(batch, p.seq)
			p.retries++
			p.sentAtMs = nowMs
			p.sentAtSeq = r.lastSeq
			if p.retries < maxNackRetries {
				kept = append(kept, p)
			}
		} else {
			kept = append(kept, p)
		}
	}
	r.nackList = kept
	return batch
}

func (r *Receiver) removeUntilKeyFrame() bool {
	for i, kf := range r.keyframes {
		index := 0
		for index = range r.nackList {
			if r.nackList[index].seq >= kf {
				break
			}
		}
		if index > 0 {
			r.keyframes = r.keyframes[i:]
			r.nackList = r.nackList[index:]
			return true
		}
	}
	return false
}

func (r *Receiver) onTick() {
	if batch := r.nackBatch(true); len(batch) != 0 {
		r.listener.SendNack(batch)
	}
}
