package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datarift/datarift/pkg/config"
	"github.com/datarift/datarift/pkg/log"
	"github.com/datarift/datarift/pkg/retry"
)

// operation status values reported by the SQL gateway.
const (
	opStatusFinished = "FINISHED"
	opStatusError    = "ERROR"
	opStatusCanceled = "CANCELED"
)

const opPollInterval = 500 * time.Millisecond

// FlinkClient is an Engine backed by the Flink SQL gateway REST API. A single
// gateway session is opened lazily on the first statement and reused for all
// tables.
type FlinkClient struct {
	endpoint      string
	client        *http.Client
	policy        retry.Policy
	sessionConfig map[string]string
	log           zerolog.Logger

	// Retries from the scheduler and supervisor restarts can submit
	// statements concurrently.
	mu            sync.Mutex
	sessionHandle string
}

// NewFlinkClient builds a client for the gateway at cfg.Endpoint. Statement
// submissions are retried per the engine restart settings.
func NewFlinkClient(cfg config.EngineConfig) *FlinkClient {
	return &FlinkClient{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		policy: retry.Policy{
			MaxRetries: cfg.RestartAttempts,
			BaseDelay:  cfg.RestartDelay.Std(),
			MaxDelay:   cfg.RestartMaxDelay.Std(),
			Multiplier: cfg.RestartBackoffMultiplier,
		},
		sessionConfig: sessionProperties(cfg),
		log:           log.WithComponent("engine"),
	}
}

// ExecuteStatement submits a statement through the gateway session and polls
// the resulting operation until it leaves the running state. Transient
// failures are retried with backoff.
func (c *FlinkClient) ExecuteStatement(ctx context.Context, statement string) error {
	return c.policy.Do(ctx, func() error {
		session, err := c.ensureSession(ctx)
		if err != nil {
			return err
		}

		opHandle, err := c.submit(ctx, session, statement)
		if err != nil {
			return err
		}
		return c.awaitOperation(ctx, session, opHandle)
	})
}

// Close deletes the gateway session.
func (c *FlinkClient) Close(ctx context.Context) error {
	c.mu.Lock()
	session := c.sessionHandle
	c.sessionHandle = ""
	c.mu.Unlock()

	if session == "" {
		return nil
	}

	url := fmt.Sprintf("%s/v1/sessions/%s", c.endpoint, session)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("close gateway session: %w", err)
	}
	resp.Body.Close()
	return nil
}

// ensureSession returns the current session handle, opening one if needed.
// The lock is held across the open so concurrent callers share one session.
func (c *FlinkClient) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionHandle != "" {
		return c.sessionHandle, nil
	}

	body, err := json.Marshal(map[string]any{"properties": c.sessionConfig})
	if err != nil {
		return "", err
	}

	var out struct {
		SessionHandle string `json:"sessionHandle"`
	}
	if err := c.post(ctx, c.endpoint+"/v1/sessions", body, &out); err != nil {
		return "", fmt.Errorf("open gateway session: %w", err)
	}
	if out.SessionHandle == "" {
		return "", fmt.Errorf("gateway returned empty session handle")
	}

	c.sessionHandle = out.SessionHandle
	c.log.Info().Str("session", c.sessionHandle).Msg("gateway session opened")
	return c.sessionHandle, nil
}

// dropSession forgets the handle so the next statement opens a fresh session,
// unless another caller already replaced it.
func (c *FlinkClient) dropSession(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionHandle == session {
		c.sessionHandle = ""
	}
}

func (c *FlinkClient) submit(ctx context.Context, session, statement string) (string, error) {
	body, err := json.Marshal(map[string]string{"statement": statement})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1/sessions/%s/statements", c.endpoint, session)
	var out struct {
		OperationHandle string `json:"operationHandle"`
	}
	if err := c.post(ctx, url, body, &out); err != nil {
		// Session handles expire server-side; drop ours so the retry
		// opens a fresh one.
		c.dropSession(session)
		return "", fmt.Errorf("submit statement: %w", err)
	}
	if out.OperationHandle == "" {
		return "", fmt.Errorf("gateway returned empty operation handle")
	}
	return out.OperationHandle, nil
}

func (c *FlinkClient) awaitOperation(ctx context.Context, session, opHandle string) error {
	url := fmt.Sprintf("%s/v1/sessions/%s/operations/%s/status",
		c.endpoint, session, opHandle)

	for {
		var out struct {
			Status string `json:"status"`
		}
		if err := c.get(ctx, url, &out); err != nil {
			return fmt.Errorf("poll operation %s: %w", opHandle, err)
		}

		switch out.Status {
		case opStatusFinished:
			return nil
		case opStatusError, opStatusCanceled:
			return fmt.Errorf("operation %s ended with status %s", opHandle, out.Status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opPollInterval):
		}
	}
}

func (c *FlinkClient) post(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *FlinkClient) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *FlinkClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned HTTP %d: %s", resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// sessionProperties translates the engine tuning into gateway session
// properties applied to every job submitted through the session.
func sessionProperties(cfg config.EngineConfig) map[string]string {
	props := map[string]string{
		"parallelism.default":                                strconv.Itoa(cfg.Parallelism),
		"execution.checkpointing.interval":                   durationMS(cfg.CheckpointInterval),
		"execution.checkpointing.timeout":                    durationMS(cfg.CheckpointTimeout),
		"execution.checkpointing.min-pause":                  durationMS(cfg.CheckpointMinPause),
		"execution.checkpointing.max-concurrent-checkpoints": strconv.Itoa(cfg.MaxConcurrentCheckpoints),
		"execution.checkpointing.mode":                       cfg.CheckpointMode,
		"restart-strategy.type":                              cfg.RestartStrategy,
	}

	switch cfg.RestartStrategy {
	case "exponential-delay":
		props["restart-strategy.exponential-delay.initial-backoff"] = durationMS(cfg.RestartDelay)
		props["restart-strategy.exponential-delay.max-backoff"] = durationMS(cfg.RestartMaxDelay)
		props["restart-strategy.exponential-delay.backoff-multiplier"] =
			strconv.FormatFloat(cfg.RestartBackoffMultiplier, 'f', -1, 64)
	case "fixed-delay":
		props["restart-strategy.fixed-delay.attempts"] = strconv.Itoa(cfg.RestartAttempts)
		props["restart-strategy.fixed-delay.delay"] = durationMS(cfg.RestartDelay)
	}
	return props
}

func durationMS(d config.Duration) string {
	return strconv.FormatInt(d.Std().Milliseconds(), 10) + "ms"
}
