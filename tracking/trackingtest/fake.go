// Package trackingtest provides in-memory tracking doubles for tests.
package trackingtest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/tracking"
)

// Metric is one recorded metric value.
type Metric struct {
	Key       string
	Value     float64
	Timestamp int64
	Step      int64
}

// Client is an in-memory tracking.Client. Failures can be injected per
// method; each injected error is returned for the next N calls.
type Client struct {
	mu sync.Mutex

	experiments map[string]string // name -> id
	runs        map[string]*tracking.Run
	params      map[string]map[string]string
	metrics     map[string][]Metric
	nextID      int

	failures map[string]*failure
	calls    map[string]int
}

type failure struct {
	err   error
	times int
}

// NewClient returns an empty fake client.
func NewClient() *Client {
	return &Client{
		experiments: make(map[string]string),
		runs:        make(map[string]*tracking.Run),
		params:      make(map[string]map[string]string),
		metrics:     make(map[string][]Metric),
		failures:    make(map[string]*failure),
		calls:       make(map[string]int),
	}
}

// AddExperiment registers an existing experiment and returns its id.
func (c *Client) AddExperiment(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addExperimentLocked(name)
}

// FailNext makes the next times calls of method return err. method is the
// Client method name, such as "LogMetric".
func (c *Client) FailNext(method string, err error, times int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[method] = &failure{err: err, times: times}
}

// Calls returns how many times method was called, failed calls included.
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// Params returns a copy of the params logged on runID.
func (c *Client) Params(runID string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.params[runID]))
	for k, v := range c.params[runID] {
		out[k] = v
	}
	return out
}

// Metrics returns a copy of the metrics logged on runID.
func (c *Client) Metrics(runID string) []Metric {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Metric(nil), c.metrics[runID]...)
}

// Run returns a copy of the run with id runID.
func (c *Client) Run(runID string) (tracking.Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[runID]
	if !ok {
		return tracking.Run{}, false
	}
	return *r, true
}

// Runs returns how many runs were created.
func (c *Client) Runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}

// CreateExperiment implements tracking.Client.
func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(ctx, "CreateExperiment"); err != nil {
		return "", err
	}
	if _, ok := c.experiments[name]; ok {
		return "", errors.Mark(errors.Newf("experiment %q exists", name), tracking.ErrAlreadyExists)
	}
	return c.addExperimentLocked(name), nil
}

// GetExperimentByName implements tracking.Client.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (*tracking.Experiment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(ctx, "GetExperimentByName"); err != nil {
		return nil, err
	}
	id, ok := c.experiments[name]
	if !ok {
		return nil, errors.Mark(errors.Newf("experiment %q not found", name), tracking.ErrNotFound)
	}
	return &tracking.Experiment{ID: id, Name: name, LifecycleStage: "active"}, nil
}

// CreateRun implements tracking.Client.
func (c *Client) CreateRun(ctx context.Context, experimentID string, startTime int64) (*tracking.Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(ctx, "CreateRun"); err != nil {
		return nil, err
	}
	id := fmt.Sprintf("run-%d", len(c.runs)+1)
	r := &tracking.Run{ID: id, ExperimentID: experimentID, Status: tracking.RunRunning, StartTime: startTime}
	c.runs[id] = r
	cp := *r
	return &cp, nil
}

// LogParam implements tracking.Client.
func (c *Client) LogParam(ctx context.Context, runID, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(ctx, "LogParam"); err != nil {
		return err
	}
	if _, ok := c.runs[runID]; !ok {
		return errors.Mark(errors.Newf("run %s not found", runID), tracking.ErrNotFound)
	}
	if c.params[runID] == nil {
		c.params[runID] = make(map[string]string)
	}
	c.params[runID][key] = value
	return nil
}

// LogMetric implements tracking.Client.
func (c *Client) LogMetric(ctx context.Context, runID, key string, value float64, timestamp, step int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(ctx, "LogMetric"); err != nil {
		return err
	}
	if _, ok := c.runs[runID]; !ok {
		return errors.Mark(errors.Newf("run %s not found", runID), tracking.ErrNotFound)
	}
	c.metrics[runID] = append(c.metrics[runID], Metric{Key: key, Value: value, Timestamp: timestamp, Step: step})
	return nil
}

// UpdateRun implements tracking.Client.
func (c *Client) UpdateRun(ctx context.Context, runID string, status tracking.RunStatus, endTime int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(ctx, "UpdateRun"); err != nil {
		return err
	}
	r, ok := c.runs[runID]
	if !ok {
		return errors.Mark(errors.Newf("run %s not found", runID), tracking.ErrNotFound)
	}
	r.Status = status
	r.EndTime = endTime
	return nil
}

func (c *Client) enter(ctx context.Context, method string) error {
	c.calls[method]++
	if err := ctx.Err(); err != nil {
		return err
	}
	f := c.failures[method]
	if f == nil || f.times == 0 {
		return nil
	}
	f.times--
	return f.err
}

func (c *Client) addExperimentLocked(name string) string {
	if id, ok := c.experiments[name]; ok {
		return id
	}
	c.nextID++
	id := strconv.Itoa(c.nextID)
	c.experiments[name] = id
	return id
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	events []tracking.Event
	Err    error
	Closed bool
}

// Publish implements tracking.Publisher.
func (p *Publisher) Publish(_ context.Context, e tracking.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, e)
	return nil
}

// Close implements tracking.Publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Events returns a copy of the published events.
func (p *Publisher) Events() []tracking.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tracking.Event(nil), p.events...)
}

var (
	_ tracking.Client    = (*Client)(nil)
	_ tracking.Publisher = (*Publisher)(nil)
)
