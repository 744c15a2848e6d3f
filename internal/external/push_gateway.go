package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// maxReceiptBodyBytes bounds how much of a gateway response is read.
const maxReceiptBodyBytes = 4 << 20

// PushGatewayOptions configures a PushGatewayClient.
type PushGatewayOptions struct {
	URL          string
	AccessToken  string
	BatchLimit   int
	GzipMinBytes int

	// RatePerSecond paces outbound requests; zero disables pacing.
	RatePerSecond float64
}

// PushGatewayClient sends message batches to the push gateway and returns
// one receipt per message, in request order.
type PushGatewayClient struct {
	base    *BaseClient
	opts    PushGatewayOptions
	limiter *rate.Limiter
}

// NewPushGatewayClient builds a client over base. BatchLimit defaults to 100.
func NewPushGatewayClient(base *BaseClient, opts PushGatewayOptions) *PushGatewayClient {
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 100
	}
	c := &PushGatewayClient{base: base, opts: opts}
	if opts.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return c
}

// NewPushHTTPClient returns the *http.Client used for gateway calls.
func NewPushHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// BatchLimit reports the largest batch Send accepts.
func (c *PushGatewayClient) BatchLimit() int { return c.opts.BatchLimit }

type sendResponse struct {
	Data   []types.PushReceipt `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// Send submits one batch. An empty batch makes no request. A batch larger
// than the configured limit is rejected without a request.
func (c *PushGatewayClient) Send(ctx context.Context, messages []types.PushMessage) ([]types.PushReceipt, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	if len(messages) > c.opts.BatchLimit {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationBatchSize,
			fmt.Sprintf("batch of %d exceeds gateway limit of %d", len(messages), c.opts.BatchLimit), nil,
			map[string]any{"size": len(messages), "limit": c.opts.BatchLimit})
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "push gateway pacing interrupted", err)
		}
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode push messages", err)
	}

	gzipped := false
	if c.opts.GzipMinBytes > 0 && len(payload) >= c.opts.GzipMinBytes {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to compress push messages", err)
		}
		if err := zw.Close(); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to compress push messages", err)
		}
		payload = buf.Bytes()
		gzipped = true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build gateway request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if c.opts.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.AccessToken)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamGateway,
			"failed to read gateway response", err, map[string]any{"status": resp.StatusCode})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamGateway,
			fmt.Sprintf("gateway returned HTTP %d", resp.StatusCode), nil,
			map[string]any{"status": resp.StatusCode, "body": truncate(string(body), 256)})
	}

	var decoded sendResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamGateway,
			"gateway returned a malformed body", err, map[string]any{"status": resp.StatusCode})
	}
	if decoded.Data == nil && len(decoded.Errors) > 0 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamGateway,
			"gateway rejected the request: "+decoded.Errors[0].Message, nil,
			map[string]any{"status": resp.StatusCode, "gateway_code": decoded.Errors[0].Code})
	}
	return decoded.Data, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = io.LimitReader(resp.Body, maxReceiptBodyBytes)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}
	return io.ReadAll(r)
}

// GatewayFailureReason renders a whole-request gateway failure as the
// error text recorded against every message of the sub-batch.
func GatewayFailureReason(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if status, ok := appErr.Details["status"].(int); ok {
			return fmt.Sprintf("gateway returned HTTP %d", status)
		}
		if appErr.Err != nil {
			return "gateway request failed: " + appErr.Err.Error()
		}
		return "gateway request failed: " + appErr.Message
	}
	if err == nil {
		return ""
	}
	return "gateway request failed: " + err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
