package main

import (
	"fmt"
	"kulatency/pkg/latency"
	"kulatency/pkg/packet"
)

func staleMark(b bool) string {
	if b {
		return " (stale)"
	}
	return ""
}

func (s *Session) report(p *packet.Packet, sample *latency.Sample) {
	fmt.Fprintf(s.out, "\ntime_kernel                  : %s%s\n", p.KernelTime, staleMark(sample.Stale))
	fmt.Fprintf(s.out, "time_user                    : %s\n", p.UserTime)
	fmt.Fprintf(s.out, "Time diff                    : %d us\n", sample.Latency)
	// count is at least 1 here, the sample was just observed
	mean, _ := s.agg.MeanAllTime()
	fmt.Fprintf(s.out, "Total Average                : %d/%d = %.2f us\n", s.agg.Total(), s.agg.Count(), mean)
	fmt.Fprintf(s.out, "Rolling Average (%d samples) : %.2f us\n", latency.WindowSize, s.agg.MeanRolling())
}
