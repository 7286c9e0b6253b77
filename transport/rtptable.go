package transport

// rtpTable routes an inbound RTP packet to the Producer that owns its
// SSRC (or, failing that, its MID/RID header extension), grounded on the
// teacher's rtpTable (rtc/peer/rtp_table.go). Unlike the teacher, lookup
// keys are scoped to one Transport's Producers rather than Receivers.
type rtpTable struct {
	ssrc map[uint32]*Producer
	mid  map[string]*Producer
	rid  map[string]*Producer
}

func newRTPTable() *rtpTable {
	return &rtpTable{
		ssrc: map[uint32]*Producer{},
		mid:  map[string]*Producer{},
		rid:  map[string]*Producer{},
	}
}

// addProducer indexes every SSRC/RTX-SSRC/RID of p's streams, plus its MID
// if set. On any collision it rolls back everything it added for p and
// returns the conflict error (spec.md §7 kind 2 rollback).
func (t *rtpTable) addProducer(p *Producer) error {
	for _, s := range p.streams {
		if _, ok := t.ssrc[s.ssrc]; ok {
			t.removeProducer(p)
			return ErrSSRCInUse
		}
		if s.rtxSSRC != 0 {
			if _, ok := t.ssrc[s.rtxSSRC]; ok {
				t.removeProducer(p)
				return ErrSSRCInUse
			}
		}
		if s.rid != "" {
			if _, ok := t.rid[s.rid]; ok {
				t.removeProducer(p)
				return ErrRIDInUse
			}
		}
	}
	if p.mid != "" {
		if _, ok := t.mid[p.mid]; ok {
			t.removeProducer(p)
			return ErrMIDInUse
		}
	}

	for _, s := range p.streams {
		t.ssrc[s.ssrc] = p
		if s.rtxSSRC != 0 {
			t.ssrc[s.rtxSSRC] = p
		}
		if s.rid != "" {
			t.rid[s.rid] = p
		}
	}
	if p.mid != "" {
		t.mid[p.mid] = p
	}
	return nil
}

// getProducer resolves the SSRC first; on a miss it consults the MID/RID
// header extensions (if the transport negotiated ids for them) and, once
// resolved, memoises the SSRC so subsequent packets skip straight to the
// fast path, mirroring the teacher's GetProducer.
func (t *rtpTable) getProducer(ssrc uint32, mid, rid string) *Producer {
	if p, ok := t.ssrc[ssrc]; ok {
		return p
	}
	if mid != "" {
		if p, ok := t.mid[mid]; ok {
			t.ssrc[ssrc] = p
			return p
		}
	}
	if rid != "" {
		if p, ok := t.rid[rid]; ok {
			t.ssrc[ssrc] = p
			return p
		}
	}
	return nil
}

func (t *rtpTable) getProducerBySSRC(ssrc uint32) *Producer {
	return t.ssrc[ssrc]
}

func (t *rtpTable) removeProducer(p *Producer) {
	for k, v := range t.ssrc {
		if v == p {
			delete(t.ssrc, k)
		}
	}
	for k, v := range t.mid {
		if v == p {
			delete(t.mid, k)
		}
	}
	for k, v := range t.rid {
		if v == p {
			delete(t.rid, k)
		}
	}
}
