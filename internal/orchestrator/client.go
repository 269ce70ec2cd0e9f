// Package orchestrator is the HTTP client for the external workflow
// engine that executes compiled DAGs.
package orchestrator

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/backoff"
	"github.com/flowbench-org/flowbench/internal/cmn/config"
	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
)

// Run is one execution of a DAG.
type Run struct {
	DAGID     string    `json:"dag_id"`
	RunID     string    `json:"dag_run_id"`
	State     string    `json:"state"`
	StartDate time.Time `json:"start_date"`
}

// TaskInstance is the state of one task within a run.
type TaskInstance struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type dagList struct {
	DAGs []struct {
		DAGID string `json:"dag_id"`
	} `json:"dags"`
}

type runList struct {
	DAGRuns []Run `json:"dag_runs"`
}

type taskInstanceList struct {
	TaskInstances []TaskInstance `json:"task_instances"`
}

// Client talks to the engine's REST API with bearer-token auth. A 401
// triggers one re-authentication and retry, so expired tokens heal
// transparently.
type Client struct {
	cfg  config.Orchestrator
	http *resty.Client

	mu    sync.Mutex
	token string
}

// NewClient creates a Client for the engine at cfg.BaseURL.
func NewClient(cfg config.Orchestrator) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Content-Type", "application/json")
	return &Client{cfg: cfg, http: client}
}

// authenticate fetches a fresh access token.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	var token tokenResponse
	resp, err := c.http.R().SetContext(ctx).
		SetBody(map[string]string{
			"username": c.cfg.Username,
			"password": c.cfg.Password,
		}).
		SetResult(&token).
		Post("/auth/token")
	if err != nil {
		return "", apperr.Wrap(apperr.CodeUpstreamFailure,
			"failed to reach the orchestrator token endpoint", err)
	}
	if resp.StatusCode() != http.StatusCreated && resp.StatusCode() != http.StatusOK {
		return "", apperr.Newf(apperr.CodeUpstreamFailure,
			"orchestrator auth failed with status %d", resp.StatusCode())
	}

	c.mu.Lock()
	c.token = token.AccessToken
	c.mu.Unlock()
	return token.AccessToken, nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return c.authenticate(ctx)
}

// do runs one authenticated request, re-authenticating once on 401.
func (c *Client) do(ctx context.Context, send func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := send(c.http.R().SetContext(ctx).SetAuthToken(token))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstreamFailure, "orchestrator request failed", err)
	}
	if resp.StatusCode() != http.StatusUnauthorized {
		return resp, nil
	}

	token, err = c.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	resp, err = send(c.http.R().SetContext(ctx).SetAuthToken(token))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstreamFailure, "orchestrator request failed", err)
	}
	return resp, nil
}

func upstreamError(resp *resty.Response, what string) error {
	return apperr.Newf(apperr.CodeUpstreamFailure,
		"orchestrator %s failed with status %d: %s",
		what, resp.StatusCode(), resp.String())
}

// WaitForRegistration polls until the engine has picked up the DAG from
// its scan directory, or the registration window closes.
func (c *Client) WaitForRegistration(ctx context.Context, dagID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RegisterTimeout)
	defer cancel()

	notRegistered := apperr.Newf(apperr.CodeUpstreamFailure,
		"DAG %s is not registered yet", dagID)
	policy := backoff.NewConstantBackoffPolicy(c.cfg.RegisterInterval)

	err := backoff.Retry(ctx, func(ctx context.Context) error {
		resp, err := c.do(ctx, func(req *resty.Request) (*resty.Response, error) {
			return req.Get("/api/v2/dags/" + dagID)
		})
		if err != nil {
			return err
		}
		switch {
		case resp.IsSuccess():
			return nil
		case resp.StatusCode() == http.StatusNotFound:
			return notRegistered
		default:
			return upstreamError(resp, "DAG lookup")
		}
	}, policy, func(err error) bool {
		return err == notRegistered
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeUpstreamFailure,
			"orchestrator did not register DAG "+dagID+" in time", err)
	}

	logger.Debug(ctx, "DAG registered with orchestrator", tag.DAG(dagID))
	return nil
}

// Unpause enables the DAG; compiled DAGs start paused.
func (c *Client) Unpause(ctx context.Context, dagID string) error {
	resp, err := c.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(map[string]bool{"is_paused": false}).
			Patch("/api/v2/dags/" + dagID)
	})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return upstreamError(resp, "unpause")
	}
	return nil
}

// Trigger starts a new run of the DAG and returns its run id.
func (c *Client) Trigger(ctx context.Context, dagID string) (string, error) {
	var run Run
	resp, err := c.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(map[string]any{}).SetResult(&run).
			Post("/api/v2/dags/" + dagID + "/dagRuns")
	})
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", upstreamError(resp, "trigger")
	}

	logger.Info(ctx, "Triggered workflow run", tag.DAG(dagID), tag.RunID(run.RunID))
	return run.RunID, nil
}

// ListDAGIDs returns the ids of all DAGs the engine knows.
func (c *Client) ListDAGIDs(ctx context.Context) ([]string, error) {
	var list dagList
	resp, err := c.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetQueryParam("limit", "1000").SetResult(&list).
			Get("/api/v2/dags")
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, upstreamError(resp, "DAG listing")
	}

	ids := make([]string, 0, len(list.DAGs))
	for _, d := range list.DAGs {
		ids = append(ids, d.DAGID)
	}
	return ids, nil
}

// LatestRun returns the most recent run of the DAG, or nil when the DAG
// is unknown or has never run.
func (c *Client) LatestRun(ctx context.Context, dagID string) (*Run, error) {
	var list runList
	resp, err := c.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetQueryParam("limit", "1").
			SetQueryParam("order_by", "-logical_date").
			SetResult(&list).
			Get("/api/v2/dags/" + dagID + "/dagRuns")
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if !resp.IsSuccess() {
		return nil, upstreamError(resp, "run lookup")
	}
	if len(list.DAGRuns) == 0 {
		return nil, nil
	}
	return &list.DAGRuns[0], nil
}

// LastRuns returns the most recent run per DAG id, keyed by DAG id.
// DAGs without runs are absent from the result.
func (c *Client) LastRuns(ctx context.Context, dagIDs []string) (map[string]Run, error) {
	if len(dagIDs) == 0 {
		return map[string]Run{}, nil
	}

	var list runList
	resp, err := c.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(map[string]any{
			"dag_ids":    dagIDs,
			"page_limit": 1000,
		}).SetResult(&list).
			Post("/api/v2/dags/~/dagRuns/list")
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, upstreamError(resp, "run batch lookup")
	}

	latest := make(map[string]Run, len(dagIDs))
	for _, run := range list.DAGRuns {
		if prev, ok := latest[run.DAGID]; !ok || run.StartDate.After(prev.StartDate) {
			latest[run.DAGID] = run
		}
	}
	return latest, nil
}

// TaskStates returns the task instances of one run.
func (c *Client) TaskStates(ctx context.Context, dagID, runID string) ([]TaskInstance, error) {
	var list taskInstanceList
	resp, err := c.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetResult(&list).
			Get("/api/v2/dags/" + dagID + "/dagRuns/" + runID + "/taskInstances")
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, upstreamError(resp, "task state lookup")
	}
	return list.TaskInstances, nil
}

// DeleteDAG removes the DAG from the engine. An unknown DAG is not an
// error; the scan directory may already have been cleaned up.
func (c *Client) DeleteDAG(ctx context.Context, dagID string) error {
	resp, err := c.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.Delete("/api/v2/dags/" + dagID)
	})
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusNotFound {
		logger.Debug(ctx, "DAG already gone from orchestrator", tag.DAG(dagID))
		return nil
	}
	if !resp.IsSuccess() {
		return upstreamError(resp, "delete")
	}
	return nil
}
