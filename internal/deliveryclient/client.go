// Package deliveryclient invokes the external delivery endpoint described in
// spec §6: a configurable HTTP(S) URL accepting a fixed JSON body and
// returning a status code the Delivery Worker classifies per spec §7.
package deliveryclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rhewin/birthday-notifier/internal/requestid"
)

// Outcome classifies a delivery attempt per spec §7's error taxonomy.
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeRejected        // 4xx: not retried
	OutcomeTransientFailure // 5xx or network/timeout: retried
)

type Result struct {
	Outcome    Outcome
	StatusCode int
	Err        error
	Duration   time.Duration
}

// Sender delivers one birthday message. The LogSender/HTTPSender duality
// mirrors a dev-vs-real split: local runs log instead of making a network
// call, everywhere else posts to EMAIL_API_URL.
type Sender interface {
	Send(ctx context.Context, email, message, traceID string) Result
}

// LogSender logs the message instead of sending it — used in ENV=local.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "deliveryclient")}
}

func (s *LogSender) Send(_ context.Context, email, message, traceID string) Result {
	s.logger.Info("birthday message (local dev)", "email", email, "message", message, "trace_id", traceID)
	return Result{Outcome: OutcomeSent, StatusCode: http.StatusOK}
}

// requestBody is the exact wire shape spec §6 mandates for the external
// delivery endpoint.
type requestBody struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// HTTPSender posts requestBody to a configured URL and classifies the
// response per spec §7.
type HTTPSender struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

func NewHTTPSender(url string, timeout time.Duration, logger *slog.Logger) *HTTPSender {
	return &HTTPSender{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		logger: logger.With("component", "deliveryclient"),
	}
}

func (s *HTTPSender) Send(ctx context.Context, email, message, traceID string) Result {
	start := time.Now()

	payload, err := json.Marshal(requestBody{Email: email, Message: message})
	if err != nil {
		return Result{Outcome: OutcomeRejected, Err: fmt.Errorf("marshal request body: %w", err), Duration: time.Since(start)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return Result{Outcome: OutcomeRejected, Err: fmt.Errorf("build request: %w", err), Duration: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")

	// Propagate the job's own trace_id (spec §4.5 payload) rather than
	// minting a fresh one, so the outbound call stays correlated with the
	// Sweeper/Dispatcher trail that produced it.
	if traceID == "" {
		traceID = requestid.New()
	}
	req.Header.Set("X-Request-ID", traceID)
	ctx = requestid.WithRequestID(ctx, traceID)

	s.logger.InfoContext(ctx, "sending delivery request", "email", email)

	resp, err := s.client.Do(req)
	if err != nil {
		duration := time.Since(start)
		s.logger.ErrorContext(ctx, "delivery request failed", "error", err, "duration", duration)
		return Result{Outcome: OutcomeTransientFailure, Err: fmt.Errorf("do request: %w", err), Duration: duration}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	duration := time.Since(start)
	s.logger.InfoContext(ctx, "received delivery response", "status", resp.StatusCode, "duration", duration)

	return Result{Outcome: classify(resp.StatusCode), StatusCode: resp.StatusCode, Duration: duration}
}

func classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSent
	case status >= 400 && status < 500:
		return OutcomeRejected
	default:
		return OutcomeTransientFailure
	}
}
