// Package service wires a config.Config into a running task manager: it
// picks the stats backend the config names, builds the engine dispatcher
// with the configured default pool size (used for every accessor; the
// per-accessor Engine.PoolSizes entries are not applied), and constructs
// the task manager on top of both. This mirrors server.NewServer/server.NewStatsClient's
// role of turning a parsed Config into live collaborators.
package service

import (
	"fmt"
	"time"

	"github.com/glyphcore/taskgraph/config"
	"github.com/glyphcore/taskgraph/engine"
	"github.com/glyphcore/taskgraph/logger"
	"github.com/glyphcore/taskgraph/metrics"
	"github.com/glyphcore/taskgraph/stats"
	"github.com/glyphcore/taskgraph/statsd"
	"github.com/glyphcore/taskgraph/task"
)

// Service bundles the collaborators a running task graph needs: a manager to
// drive the state machine, a dispatcher to run accessor payloads, and the
// stats client both report through.
type Service struct {
	Config     *config.Config
	Manager    *task.Manager
	Dispatcher *engine.Dispatcher
	Stats      stats.StatsClient
	Logger     logger.Logger
}

// New constructs a Service from cfg. log may be nil (defaults to
// logger.NopLogger).
func New(cfg *config.Config, log logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NopLogger
	}

	st, err := newStatsClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("constructing stats client: %w", err)
	}

	dispatcher := engine.NewDispatcher(cfg.Engine.DefaultPoolSize, statsAdapter{st})

	mgr := task.NewManager(task.ManagerConfig{
		QueueDepth:    cfg.QueueDepth,
		Enabled:       cfg.TaskManager.Enabled,
		DebugRegistry: cfg.Debug.Registry,
		SyncTimeout:   time.Duration(cfg.Sync.Timeout),
	}, log, st)

	return &Service{
		Config:     cfg,
		Manager:    mgr,
		Dispatcher: dispatcher,
		Stats:      st,
		Logger:     log,
	}, nil
}

// Start brings the manager's consumer goroutine up. Call Stop to drain and
// tear it down again.
func (s *Service) Start() error {
	return s.Manager.Init()
}

// Stop drains the manager's queue and shuts down every accessor pool the
// dispatcher created.
func (s *Service) Stop() {
	s.Manager.Shutdown()
	s.Dispatcher.Close()
}

// newStatsClient constructs the stats backend named by cfg.Metric.Service,
// matching server.NewStatsClient's name-to-constructor switch.
func newStatsClient(cfg *config.Config) (stats.StatsClient, error) {
	switch cfg.Metric.Service {
	case "statsd":
		return statsd.NewStatsClient(cfg.Metric.Host)
	case "prometheus":
		return metrics.NewClient(cfg.Metric.Namespace), nil
	default:
		return stats.NopStatsClient, nil
	}
}

// statsAdapter lets engine.Dispatcher report pool sizes through whatever
// stats.StatsClient was selected. Backends (like the statsd client) that
// don't separately implement engine.Stats get the size as an
// engine.pool_size.<accessor> gauge instead.
type statsAdapter struct {
	st stats.StatsClient
}

func (a statsAdapter) PoolSize(accessor string, n int) {
	if ps, ok := a.st.(engine.Stats); ok {
		ps.PoolSize(accessor, n)
		return
	}
	a.st.Gauge(fmt.Sprintf("engine.pool_size.%s", accessor), float64(n), 1)
}
