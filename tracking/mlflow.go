package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ezoic/taxifare/pkg/errors"
)

const (
	mlflowAPIPrefix       = "api/2.0/mlflow/"
	defaultMLflowTimeout  = 30 * time.Second
	maxErrorBodyBytes     = 64 << 10
	codeAlreadyExists     = "RESOURCE_ALREADY_EXISTS"
	codeResourceNotExists = "RESOURCE_DOES_NOT_EXIST"
)

// APIError is an error response from the MLflow REST API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("mlflow: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("mlflow: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// MLflowClient talks to an MLflow tracking server over its REST API.
type MLflowClient struct {
	base *url.URL
	http *http.Client
}

// NewMLflowClient creates a client for the server at baseURL. A zero timeout
// selects the default of 30s.
func NewMLflowClient(baseURL string, timeout time.Duration) (*MLflowClient, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.NewValidationError("tracking.uri", "must be an absolute http(s) URL", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if timeout <= 0 {
		timeout = defaultMLflowTimeout
	}
	return &MLflowClient{base: u, http: &http.Client{Timeout: timeout}}, nil
}

// BaseURL returns the server URL the client was created with.
func (c *MLflowClient) BaseURL() string {
	return c.base.String()
}

type mlflowExperiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location"`
	LifecycleStage   string `json:"lifecycle_stage"`
}

type mlflowRunInfo struct {
	RunID        string `json:"run_id"`
	ExperimentID string `json:"experiment_id"`
	Status       string `json:"status"`
	StartTime    millis `json:"start_time"`
	EndTime      millis `json:"end_time"`
}

// millis accepts int64 timestamps encoded as JSON numbers or strings, since
// MLflow servers emit both.
type millis int64

func (m *millis) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid timestamp %s", b)
	}
	*m = millis(v)
	return nil
}

// CreateExperiment implements Client.
func (c *MLflowClient) CreateExperiment(ctx context.Context, name string) (string, error) {
	var resp struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := c.do(ctx, http.MethodPost, "experiments/create", nil, map[string]string{"name": name}, &resp); err != nil {
		return "", err
	}
	return resp.ExperimentID, nil
}

// GetExperimentByName implements Client.
func (c *MLflowClient) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var resp struct {
		Experiment mlflowExperiment `json:"experiment"`
	}
	query := url.Values{"experiment_name": {name}}
	if err := c.do(ctx, http.MethodGet, "experiments/get-by-name", query, nil, &resp); err != nil {
		return nil, err
	}
	e := resp.Experiment
	return &Experiment{
		ID:               e.ExperimentID,
		Name:             e.Name,
		ArtifactLocation: e.ArtifactLocation,
		LifecycleStage:   e.LifecycleStage,
	}, nil
}

// CreateRun implements Client.
func (c *MLflowClient) CreateRun(ctx context.Context, experimentID string, startTime int64) (*Run, error) {
	req := map[string]any{
		"experiment_id": experimentID,
		"start_time":    startTime,
	}
	var resp struct {
		Run struct {
			Info mlflowRunInfo `json:"info"`
		} `json:"run"`
	}
	if err := c.do(ctx, http.MethodPost, "runs/create", nil, req, &resp); err != nil {
		return nil, err
	}
	info := resp.Run.Info
	return &Run{
		ID:           info.RunID,
		ExperimentID: info.ExperimentID,
		Status:       RunStatus(info.Status),
		StartTime:    int64(info.StartTime),
		EndTime:      int64(info.EndTime),
	}, nil
}

// LogParam implements Client.
func (c *MLflowClient) LogParam(ctx context.Context, runID, key, value string) error {
	req := map[string]string{"run_id": runID, "key": key, "value": value}
	return c.do(ctx, http.MethodPost, "runs/log-parameter", nil, req, nil)
}

// LogMetric implements Client.
func (c *MLflowClient) LogMetric(ctx context.Context, runID, key string, value float64, timestamp, step int64) error {
	req := map[string]any{
		"run_id":    runID,
		"key":       key,
		"value":     value,
		"timestamp": timestamp,
		"step":      step,
	}
	return c.do(ctx, http.MethodPost, "runs/log-metric", nil, req, nil)
}

// UpdateRun implements Client.
func (c *MLflowClient) UpdateRun(ctx context.Context, runID string, status RunStatus, endTime int64) error {
	req := map[string]any{
		"run_id":   runID,
		"status":   string(status),
		"end_time": endTime,
	}
	return c.do(ctx, http.MethodPost, "runs/update", nil, req, nil)
}

func (c *MLflowClient) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	u := c.base.JoinPath(mlflowAPIPrefix + endpoint)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "mlflow %s: encode request", endpoint)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return errors.Wrapf(err, "mlflow %s: build request", endpoint)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "mlflow %s", endpoint)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Wrapf(decodeAPIError(resp), "mlflow %s", endpoint)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "mlflow %s: decode response", endpoint)
	}
	return nil
}

// decodeAPIError reads an MLflow error body and marks the well-known codes
// so callers can match them with errors.Is.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err := json.Unmarshal(raw, apiErr); err != nil || (apiErr.Code == "" && apiErr.Message == "") {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}

	switch apiErr.Code {
	case codeAlreadyExists:
		return errors.Mark(apiErr, ErrAlreadyExists)
	case codeResourceNotExists:
		return errors.Mark(apiErr, ErrNotFound)
	}
	if resp.StatusCode == http.StatusNotFound && apiErr.Code == "" {
		return errors.Mark(apiErr, ErrNotFound)
	}
	return errors.WithStack(apiErr)
}

// permanent reports whether retrying err cannot help.
func permanent(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
			apiErr.StatusCode != http.StatusTooManyRequests &&
			apiErr.StatusCode != http.StatusRequestTimeout
	}
	var valErr *errors.ValidationError
	return errors.As(err, &valErr)
}
