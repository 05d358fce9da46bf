package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Cron owns the cron runner and remembers each job's entry so the API can
// report its next firing time.
type Cron struct {
	runner  *cron.Cron
	entries map[string]cron.EntryID
	logger  *zap.Logger
}

// NewCron sets up a cron runner with panic recovery around every job.
func NewCron(logger *zap.Logger) *Cron {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cron")
	adapter := cronLogger{logger: logger}
	return &Cron{
		runner:  cron.New(cron.WithChain(cron.Recover(adapter))),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// Register schedules a named job. Names must be unique.
func (c *Cron) Register(name, spec string, job func()) error {
	if _, dup := c.entries[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	id, err := c.runner.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("schedule %q (%s): %w", name, spec, err)
	}
	c.entries[name] = id
	c.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start launches the runner in its own goroutine.
func (c *Cron) Start() {
	c.runner.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (c *Cron) Stop() {
	<-c.runner.Stop().Done()
}

// NextRun reports when the named job fires next. The zero time means the
// job is unknown or the runner has not started.
func (c *Cron) NextRun(name string) time.Time {
	id, ok := c.entries[name]
	if !ok {
		return time.Time{}
	}
	return c.runner.Entry(id).Next
}

// cronLogger adapts zap to the cron logging contract.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
