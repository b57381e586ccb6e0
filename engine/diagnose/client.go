// Package diagnose formats diagnosis requests for the hosted generative
// model, validates the structured report it returns, and maps failures into
// a closed set of error categories. One request per submission; no retries —
// retry is a user-initiated resubmission.
package diagnose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lukeponga-dev/rotorwise/engine/attachment"
	"github.com/lukeponga-dev/rotorwise/engine/domain"
)

// Options configures the diagnostic client.
type Options struct {
	// BaseURL is the API root, e.g. "https://generativelanguage.googleapis.com".
	BaseURL string
	// Model is the model identifier used in the request path.
	Model string
	// Timeout bounds a single request.
	Timeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		BaseURL: "https://generativelanguage.googleapis.com",
		Model:   "gemini-2.5-pro",
		Timeout: 2 * time.Minute,
	}
}

// Client talks to the generateContent API.
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client.
func New(opts Options, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOptions().BaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultOptions().Model
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Request performs one diagnosis request. It fails fast, without a network
// call, on empty input or a missing credential. Only attachments with a
// complete status and populated payload are sent.
func (c *Client) Request(ctx context.Context, userInput, vin string, attachments []attachment.Attachment, credential string) (*domain.DiagnosticReport, error) {
	if strings.TrimSpace(userInput) == "" {
		return nil, domain.ErrEmptyDescription
	}
	if credential == "" {
		return nil, ErrNoCredential
	}

	ctx, span := otel.Tracer("engine/diagnose").Start(ctx, "diagnose.request")
	defer span.End()

	parts := buildParts(userInput, vin, attachments)
	span.SetAttributes(
		attribute.Int("diagnose.parts", len(parts)),
		attribute.Bool("diagnose.has_vin", vin != ""),
	)

	report, err := c.generate(ctx, parts, credential)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return report, nil
}

func (c *Client) generate(ctx context.Context, parts []part, credential string) (*domain.DiagnosticReport, error) {
	reqBody := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: systemInstruction}}},
		Contents:          []content{{Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   reportSchema,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrUnknown, err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.opts.BaseURL, c.opts.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnknown, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// client.Do failures are transport-level: the service was never reached.
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyStatus(resp)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrService, err)
	}
	text := firstText(genResp)
	if text == "" {
		return nil, fmt.Errorf("%w: response contains no content", ErrService)
	}

	var report domain.DiagnosticReport
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		return nil, fmt.Errorf("%w: parse report: %v", ErrService, err)
	}
	if err := report.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrService, err)
	}
	return &report, nil
}

// classifyStatus maps a non-200 response to an error category,
// first match wins.
func (c *Client) classifyStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var ae apiError
	_ = json.Unmarshal(raw, &ae)

	message := ae.Error.Message
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	if message == "" {
		message = resp.Status
	}

	c.logger.Warn("diagnosis request rejected",
		"status_code", resp.StatusCode, "api_status", ae.Error.Status)

	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "api key not valid"),
		ae.Error.Status == "UNAUTHENTICATED",
		ae.Error.Status == "PERMISSION_DENIED",
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrInvalidAPIKey, message)
	case resp.StatusCode == http.StatusTooManyRequests,
		ae.Error.Status == "RESOURCE_EXHAUSTED":
		return fmt.Errorf("%w: %s", ErrRateLimited, message)
	default:
		return fmt.Errorf("%w: %s", ErrService, message)
	}
}

// firstText returns the first text part of the first candidate.
func firstText(r generateResponse) string {
	for _, cand := range r.Candidates {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}
