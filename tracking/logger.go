package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/pkg/log"
)

const defaultRetryDelay = 200 * time.Millisecond

// ExperimentLogger logs params and metrics of one run. The client, the
// experiment id and the run are resolved on first use and cached after the
// first success; failures are not cached, so a later call tries again.
//
// Logging failures are retried cfg.Retries times. When every attempt fails
// the failure becomes a TrackingWarning and the call returns nil, unless
// cfg.Strict is set.
type ExperimentLogger struct {
	cfg       Config
	newClient func(Config) (Client, error)
	publisher Publisher
	clock     func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	client       Client
	experimentID string
	run          *Run
	steps        map[string]int64

	logger log.Logger
}

// Option configures an ExperimentLogger.
type Option func(*ExperimentLogger)

// WithClient uses c instead of building a client from the config.
func WithClient(c Client) Option {
	return func(l *ExperimentLogger) {
		l.newClient = func(Config) (Client, error) { return c, nil }
	}
}

// WithClientFactory overrides how the client is built on first use.
func WithClientFactory(f func(Config) (Client, error)) Option {
	return func(l *ExperimentLogger) { l.newClient = f }
}

// WithPublisher mirrors every successful call to p.
func WithPublisher(p Publisher) Option {
	return func(l *ExperimentLogger) { l.publisher = p }
}

// WithClock overrides the time source used for run and metric timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *ExperimentLogger) { l.clock = now }
}

// NewExperimentLogger creates a logger for cfg.Experiment. Nothing is
// contacted until the first call that needs the backend.
func NewExperimentLogger(cfg Config, opts ...Option) *ExperimentLogger {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	l := &ExperimentLogger{
		cfg:       cfg,
		newClient: NewClient,
		clock:     time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *ExperimentLogger) log() log.Logger {
	if l.logger == nil {
		l.logger = log.GetLoggerWithName("tracking").With(
			log.ExperimentKey, l.cfg.Experiment,
			log.TrackingURIKey, l.cfg.URI,
		)
	}
	return l.logger
}

// Config returns the configuration the logger was created with.
func (l *ExperimentLogger) Config() Config {
	return l.cfg
}

// Client returns the tracking client, creating it on first use.
func (l *ExperimentLogger) Client(ctx context.Context) (Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clientLocked(ctx)
}

// ExperimentID returns the id of the configured experiment, creating the
// experiment when it does not exist yet.
func (l *ExperimentLogger) ExperimentID(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.experimentIDLocked(ctx)
}

// RunID returns the id of the current run, starting one on first use.
func (l *ExperimentLogger) RunID(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	run, err := l.runLocked(ctx)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func (l *ExperimentLogger) clientLocked(ctx context.Context) (Client, error) {
	if l.client != nil {
		return l.client, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := l.newClient(l.cfg)
	if err != nil {
		return nil, errors.Wrap(err, "tracking: create client")
	}
	l.client = c
	return c, nil
}

func (l *ExperimentLogger) experimentIDLocked(ctx context.Context) (string, error) {
	if l.experimentID != "" {
		return l.experimentID, nil
	}
	c, err := l.clientLocked(ctx)
	if err != nil {
		return "", err
	}
	id, err := ResolveExperiment(ctx, c, l.cfg.Experiment)
	if err != nil {
		return "", err
	}
	l.experimentID = id
	l.log().Debug("Experiment resolved", log.ExperimentIDKey, id)
	return id, nil
}

func (l *ExperimentLogger) runLocked(ctx context.Context) (*Run, error) {
	if l.run != nil {
		return l.run, nil
	}
	expID, err := l.experimentIDLocked(ctx)
	if err != nil {
		return nil, err
	}
	run, err := l.client.CreateRun(ctx, expID, l.clock().UnixMilli())
	if err != nil {
		return nil, errors.Wrapf(err, "tracking: create run in experiment %s", expID)
	}
	l.run = run
	l.log().Info("Tracking run started",
		log.ExperimentIDKey, expID,
		log.RunIDKey, run.ID,
	)
	l.publish(ctx, l.eventLocked(Event{Type: EventRunStarted, Status: RunRunning}))
	return run, nil
}

// ResolveExperiment creates the experiment called name, or looks it up when
// it already exists. Only ErrAlreadyExists triggers the lookup; any other
// creation error is returned.
func ResolveExperiment(ctx context.Context, c Client, name string) (string, error) {
	id, err := c.CreateExperiment(ctx, name)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, ErrAlreadyExists):
		exp, err := c.GetExperimentByName(ctx, name)
		if err != nil {
			return "", errors.Wrapf(err, "tracking: look up experiment %q", name)
		}
		return exp.ID, nil
	default:
		return "", errors.Wrapf(err, "tracking: create experiment %q", name)
	}
}

// LogParam records a parameter on the current run.
func (l *ExperimentLogger) LogParam(ctx context.Context, key, value string) error {
	err := l.withRetry(ctx, "log_param", func(c Client, run *Run) error {
		return c.LogParam(ctx, run.ID, key, value)
	})
	if err == nil {
		l.publish(ctx, l.event(Event{Type: EventParam, Key: key, Value: value}))
	}
	return l.settle("log_param", err)
}

// LogMetric records a metric on the current run. Each key counts its own
// steps from 0, so logging a key again extends its history.
func (l *ExperimentLogger) LogMetric(ctx context.Context, key string, value float64) error {
	l.mu.Lock()
	if l.steps == nil {
		l.steps = make(map[string]int64)
	}
	step := l.steps[key]
	l.steps[key]++
	l.mu.Unlock()

	err := l.withRetry(ctx, "log_metric", func(c Client, run *Run) error {
		return c.LogMetric(ctx, run.ID, key, value, l.clock().UnixMilli(), step)
	})
	if err == nil {
		v := value
		l.publish(ctx, l.event(Event{Type: EventMetric, Key: key, Metric: &v}))
	}
	return l.settle("log_metric", err)
}

// EndRun marks the current run with status. It does nothing when no run was
// started.
func (l *ExperimentLogger) EndRun(ctx context.Context, status RunStatus) error {
	l.mu.Lock()
	started := l.run != nil
	l.mu.Unlock()
	if !started {
		return nil
	}

	err := l.withRetry(ctx, "update_run", func(c Client, run *Run) error {
		return c.UpdateRun(ctx, run.ID, status, l.clock().UnixMilli())
	})
	if err == nil {
		l.mu.Lock()
		l.run.Status = status
		runID := l.run.ID
		e := l.eventLocked(Event{Type: EventRunFinished, Status: status})
		l.mu.Unlock()
		l.log().Info("Tracking run ended", log.RunIDKey, runID, "status", string(status))
		l.publish(ctx, e)
	}
	return l.settle("update_run", err)
}

// Close releases the publisher, if any.
func (l *ExperimentLogger) Close() error {
	if l.publisher == nil {
		return nil
	}
	return l.publisher.Close()
}

// withRetry runs fn against the current run, resolving it first. Failures
// are retried with a linearly growing delay until the attempts run out,
// the context ends or the error is permanent.
func (l *ExperimentLogger) withRetry(ctx context.Context, op string, fn func(Client, *Run) error) error {
	attempts := l.cfg.Retries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = l.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || permanent(err) || attempt == attempts {
			return &attemptError{attempts: attempt, err: err}
		}
		l.log().Debug("Tracking call failed, retrying",
			log.OperationKey, op,
			log.AttemptKey, attempt,
			"error", err.Error(),
		)
		if serr := l.sleep(ctx, time.Duration(attempt)*l.cfg.RetryDelay); serr != nil {
			return &attemptError{attempts: attempt, err: err}
		}
	}
	return &attemptError{attempts: attempts, err: err}
}

func (l *ExperimentLogger) attempt(ctx context.Context, fn func(Client, *Run) error) error {
	l.mu.Lock()
	run, err := l.runLocked(ctx)
	c := l.client
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(c, run)
}

// settle applies the failure policy to the outcome of withRetry.
func (l *ExperimentLogger) settle(op string, err error) error {
	if err == nil {
		return nil
	}
	ae := err.(*attemptError)
	if l.cfg.Strict {
		return errors.Wrapf(ae.err, "tracking %s failed after %d attempt(s)", op, ae.attempts)
	}
	l.log().Warn("Tracking call failed, continuing without it",
		log.OperationKey, op,
		log.AttemptKey, ae.attempts,
		"error", ae.err.Error(),
	)
	errors.Warn(errors.NewTrackingWarning(op, ae.attempts, ae.err))
	return nil
}

// event stamps e with the experiment and the current run.
func (l *ExperimentLogger) event(e Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eventLocked(e)
}

func (l *ExperimentLogger) eventLocked(e Event) Event {
	e.Experiment = l.cfg.Experiment
	if l.run != nil {
		e.ExperimentID = l.run.ExperimentID
		e.RunID = l.run.ID
	}
	if e.ExperimentID == "" {
		e.ExperimentID = l.experimentID
	}
	e.Timestamp = l.clock().UnixMilli()
	return e
}

// publish sends an event built by event or eventLocked. It does not touch
// the logger state, so it may run with or without l.mu held.
func (l *ExperimentLogger) publish(ctx context.Context, e Event) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, e); err != nil {
		errors.Warn(errors.NewTrackingWarning("publish_"+string(e.Type), 1, err))
	}
}

type attemptError struct {
	attempts int
	err      error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
