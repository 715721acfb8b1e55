package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// JSONRequest describes one call against a collaborating service.
type JSONRequest struct {
	Service        string
	Op             string
	Method         string
	URL            string
	Token          string
	IdempotencyKey string
	Body           any
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}

// DoJSON sends req and decodes a JSON response into out when out is non-nil.
// Any non-2xx status is returned as a *CollaboratorError.
func DoJSON(ctx context.Context, client *http.Client, req JSONRequest, out any) error {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return &CollaboratorError{Service: req.Service, Op: req.Op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.WithFields(log.Fields{
			"service": req.Service,
			"op":      req.Op,
			"status":  resp.StatusCode,
		}).Debugf("Collaborator call failed: %s", msg)
		return &CollaboratorError{
			Service:    req.Service,
			Op:         req.Op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", bytes.TrimSpace(msg)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &CollaboratorError{Service: req.Service, Op: req.Op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
