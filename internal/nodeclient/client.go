// Package nodeclient is the HTTP client for the upstream node API (§6),
// grounded on the original Rust agent's service/api_service.rs
// get_request_always (unbounded retry, fixed delay) and on erigon's use of
// cenkalti/backoff for retrying HTTP calls, adapted here to a constant
// (non-exponential) backoff policy since §6/§7 call for a fixed 500ms delay.
package nodeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/config"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/logx"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/model"
)

var log = logx.NewModuleLogger(logx.ModuleNodeClient)

// Client wraps an *http.Client configured with the connect/acquire/idle
// timeouts §5 specifies (30s connect, 30s acquire, 2min idle).
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against baseURL (LM_ADDR).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				IdleConnTimeout:       2 * time.Minute,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// retryPolicy is an unbounded fixed-delay backoff (§6/§7): every idempotent
// GET retries forever at config.HTTPRetryDelay until it succeeds or the
// context is cancelled. Failures getJSON marks permanent (a request that
// cannot be built, a body that does not decode) are returned without retry.
func retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewConstantBackOff(config.HTTPRetryDelay)
	return backoff.WithContext(b, ctx)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	url := c.baseURL + path
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("nodeclient: build request for %s: %w", url, err))
		}
		resp, err := c.http.Do(req)
		if err != nil {
			log.Warn("request failed, retrying", "url", url, "err", err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			// Every GET here is idempotent and, per the resolver's contract
			// (§4.1, §7), references something the ledger asserts exists —
			// including a 404, which can only mean the node hasn't caught up
			// yet. Retry unbounded rather than surface not-found.
			log.Warn("non-2xx response, retrying", "url", url, "status", resp.StatusCode)
			return fmt.Errorf("nodeclient: %s returned %d", url, resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			log.Warn("read body failed, retrying", "url", url, "err", err)
			return err
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("nodeclient: decode %s: %w", url, err))
		}
		return nil
	}

	return backoff.Retry(op, retryPolicy(ctx))
}

// Status fetches GET /status.
func (c *Client) Status(ctx context.Context) (model.NodeStatus, error) {
	var status model.NodeStatus
	err := c.getJSON(ctx, "/status", &status)
	return status, err
}

// Block fetches GET /block/{hash}.
func (c *Client) Block(ctx context.Context, hash string) (model.Block, error) {
	var b model.Block
	err := c.getJSON(ctx, "/block/"+hash, &b)
	return b, err
}

// Transaction fetches GET /tx/{hash}. The resolver and the downloader call
// it; the node never legitimately 404s a transaction the ledger itself references,
// so a 404 here retries forever rather than surfacing not-found (§7
// "Data-absent").
func (c *Client) Transaction(ctx context.Context, hash string) (model.TransactionWithResult, error) {
	var tx model.TransactionWithResult
	err := c.getJSON(ctx, "/tx/"+hash, &tx)
	return tx, err
}
