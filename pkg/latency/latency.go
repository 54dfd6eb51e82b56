package latency

import (
	"encoding/binary"
	"kulatency/pkg/packet"
	"kulatency/pkg/record"
	"kulatency/pkg/stats"
)

const WindowSize = 32

type Sample struct {
	Latency int64 // microseconds, negative if the user clock is behind the kernel timestamp
	Stale   bool
	Seq     uint16
	HasSeq  bool
}

type Aggregator struct {
	total  stats.Cumulative[int64]
	window *stats.Window[int64]
	log    *record.Log
	stale  int64
}

// New returns an aggregator; records are only kept when log is not nil.
func New(log *record.Log) *Aggregator {
	return &Aggregator{
		window: stats.NewWindow[int64](WindowSize),
		log:    log,
	}
}

// Observe folds p into the statistics. The sample is always aggregated; the
// only possible error is record.ErrCapacityExceeded when its log record could
// not be kept.
func (a *Aggregator) Observe(p packet.Packet) (Sample, error) {
	s := Sample{
		Latency: p.Latency(),
		Stale:   p.Stale,
	}
	s.Seq, s.HasSeq = SequenceNumber(p.Payload)

	a.total.SampleIn(s.Latency)
	a.window.SampleIn(s.Latency)
	if s.Stale {
		a.stale++
	}

	if a.log != nil && s.HasSeq {
		return s, a.log.Append(record.Record{Seq: s.Seq, Latency: s.Latency})
	}
	return s, nil
}

// MeanAllTime returns false until the first sample.
func (a *Aggregator) MeanAllTime() (float64, bool) {
	return a.total.Mean()
}

func (a *Aggregator) MeanRolling() float64 {
	return a.window.Mean()
}

func (a *Aggregator) Count() int64 {
	return a.total.SampleCount()
}

func (a *Aggregator) Total() int64 {
	return a.total.Total()
}

func (a *Aggregator) StaleCount() int64 {
	return a.stale
}

// SequenceNumber reads the RTP sequence number, the big endian word at byte
// offset 2.
func SequenceNumber(payload []byte) (uint16, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint16(payload[2:4]), true
}
