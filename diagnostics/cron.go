package diagnostics

import (
	"github.com/robfig/cron/v3"

	"github.com/coremodular/imc/bus"
	"github.com/coremodular/imc/imclog"
)

// StatsSnapshotter periodically logs a BusStats snapshot on a cron
// schedule, giving operators a heartbeat of delivery and drop counters
// without polling the HTTP surface.
type StatsSnapshotter struct {
	cron *cron.Cron
	b    *bus.Bus
	log  imclog.Logger
}

// NewStatsSnapshotter builds a snapshotter that logs GetStats at INFO on
// the given cron schedule (standard five-field syntax) once Start is
// called. log may be nil, in which case imclog.Noop is used.
func NewStatsSnapshotter(b *bus.Bus, log imclog.Logger) *StatsSnapshotter {
	if log == nil {
		log = imclog.Noop
	}
	return &StatsSnapshotter{
		cron: cron.New(),
		b:    b,
		log:  log,
	}
}

// Start schedules the snapshot job and starts the underlying cron
// scheduler's own goroutine. schedule is parsed with cron.ParseStandard
// (five-field syntax plus @every descriptors).
func (s *StatsSnapshotter) Start(schedule string) error {
	parsed, err := cron.ParseStandard(schedule)
	if err != nil {
		return err
	}
	s.cron.Schedule(parsed, cron.FuncJob(s.snapshot))
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight snapshot job to
// finish.
func (s *StatsSnapshotter) Stop() {
	<-s.cron.Stop().Done()
}

func (s *StatsSnapshotter) snapshot() {
	stats := s.b.GetStats()
	s.log.Info("imc bus stats snapshot",
		"topics", stats.TopicCount,
		"subscriptions", stats.SubscriptionCount,
		"rpcs", stats.RPCCount,
		"delivered", stats.Delivered,
		"dropped", stats.Dropped,
	)
}
