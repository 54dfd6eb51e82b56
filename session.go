package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"kulatency/pkg/latency"
	"kulatency/pkg/packet"
	"kulatency/pkg/record"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Source interface {
	Receive() (packet.Packet, error)
}

type state int

const (
	running state = iota
	stopping
	stopped
)

func (s state) String() string {
	switch s {
	case running:
		return "running"
	case stopping:
		return "stopping"
	case stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Session struct {
	conf   Config
	src    Source
	agg    *latency.Aggregator
	log    *record.Log
	out    io.Writer
	logger *logrus.Logger
	state  state

	errLimiter  *rate.Limiter
	recvErrors  int64
	suppressed  int64
	truncated   int64
	logFullSeen bool
}

func NewSession(conf Config, src Source, out io.Writer, logger *logrus.Logger) *Session {
	s := &Session{
		conf:       conf,
		src:        src,
		out:        out,
		logger:     logger,
		errLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	if conf.log {
		s.log = record.New(conf.logCapacity)
	}
	s.agg = latency.New(s.log)
	return s
}

// Run receives packets until the count is reached, ctx is cancelled or the
// socket fails. Cancellation is only checked between packets: a blocked
// receive is never interrupted.
func (s *Session) Run(ctx context.Context) error {
	var runErr error

	for s.state == running {
		if ctx.Err() != nil {
			s.logger.Info("interrupted, stopping")
			s.state = stopping
			break
		}

		p, err := s.src.Receive()
		if err != nil {
			if packet.IsFatal(err) {
				runErr = err
				s.state = stopping
				break
			}
			s.receiveError(err)
			continue
		}

		sample, err := s.agg.Observe(p)
		if err != nil && !s.logFullSeen {
			s.logFullSeen = true
			s.logger.WithError(err).Warnf("log buffer full after %d records, further records are dropped", s.log.Len())
		}
		if p.Truncated {
			s.truncated++
		}

		if s.conf.verbose {
			s.report(&p, &sample)
		}

		if s.conf.count > 0 && s.agg.Count() >= s.conf.count {
			s.state = stopping
		}
	}

	flushErr := s.flush()
	s.state = stopped
	s.summary()

	return errors.Join(runErr, flushErr)
}

func (s *Session) receiveError(err error) {
	s.recvErrors++
	if !s.errLimiter.Allow() {
		s.suppressed++
		return
	}
	entry := s.logger.WithError(err)
	if s.suppressed > 0 {
		entry = entry.WithField("suppressed", s.suppressed)
		s.suppressed = 0
	}
	entry.Warn("receive failed, skipping")
}

func (s *Session) flush() error {
	if s.log == nil {
		return nil
	}
	if err := s.log.Flush(s.conf.logFile); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"file":    s.conf.logFile,
		"records": s.log.Len(),
	}).Info("log written")
	return nil
}

func (s *Session) summary() {
	fields := logrus.Fields{
		"packets":        s.agg.Count(),
		"rolling_us":     fmt.Sprintf("%.2f", s.agg.MeanRolling()),
		"stale":          s.agg.StaleCount(),
		"truncated":      s.truncated,
		"receive_errors": s.recvErrors,
	}
	if mean, ok := s.agg.MeanAllTime(); ok {
		fields["mean_us"] = fmt.Sprintf("%.2f", mean)
	}
	if s.log != nil && s.log.Dropped() > 0 {
		fields["log_dropped"] = s.log.Dropped()
	}
	s.logger.WithFields(fields).Info("done")
}
