// Package reputation is the client side of the threat-intel provider.
//
// Assess never returns an error: every provider-side problem is folded into
// an Unavailable verdict carrying a Failure class, so callers can degrade.
package reputation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"qrsafe/internal/domain"
)

const (
	DefaultBaseURL = "https://www.virustotal.com/api/v3"
	DefaultGUIURL  = "https://www.virustotal.com/gui"

	// SecureThreshold is the detection ratio below which a URL is secure.
	SecureThreshold = 0.02

	maxBody = 1 << 20
)

// ProviderError describes a failed provider call.
type ProviderError struct {
	Status  int
	Failure domain.Failure
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reputation: %s (status %d): %v", e.Failure, e.Status, e.Err)
	}
	return fmt.Sprintf("reputation: %s (status %d)", e.Failure, e.Status)
}

func (e *ProviderError) Unwrap() error { return e.Err }

type Client struct {
	baseURL      string
	guiURL       string
	apiKey       string
	http         *http.Client
	limiter      *rate.Limiter
	submitOnMiss bool
	logger       *slog.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }

func WithGUIURL(u string) Option { return func(c *Client) { c.guiURL = strings.TrimRight(u, "/") } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithRateLimit throttles outbound calls to perMinute with the given burst.
// perMinute <= 0 disables throttling.
func WithRateLimit(perMinute, burst int) Option {
	return func(c *Client) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}
}

// WithSubmitOnMiss controls whether an unknown URL is submitted for analysis.
func WithSubmitOnMiss(on bool) Option { return func(c *Client) { c.submitOnMiss = on } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a client. The provider's public quota (4 lookups per minute) is
// applied unless overridden.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		guiURL:       DefaultGUIURL,
		apiKey:       strings.TrimSpace(apiKey),
		http:         &http.Client{Timeout: 15 * time.Second},
		submitOnMiss: true,
		logger:       slog.Default(),
	}
	WithRateLimit(4, 4)(c)
	for _, o := range opts {
		o(c)
	}
	return c
}

type analysisStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
	Timeout    int `json:"timeout"`
}

type urlReport struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			LastAnalysisStats *analysisStats `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// Assess fetches the current detection snapshot for target.
func (c *Client) Assess(ctx context.Context, target string) domain.ReputationVerdict {
	if c.apiKey == "" {
		return unavailable(domain.FailureMissingCredential)
	}
	report, err := c.fetch(ctx, target)
	if err != nil {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			pe = &ProviderError{Failure: domain.FailureNetwork, Err: err}
		}
		if pe.Failure == domain.FailureNotFound && c.submitOnMiss {
			if serr := c.Submit(ctx, target); serr != nil {
				c.logger.WarnContext(ctx, "reputation: submit for analysis failed", "error", serr)
			}
		}
		return unavailable(pe.Failure)
	}
	return c.verdict(report)
}

func (c *Client) verdict(report urlReport) domain.ReputationVerdict {
	stats := report.Data.Attributes.LastAnalysisStats
	if stats == nil {
		return unavailable(domain.FailureNotFound)
	}
	v := domain.ReputationVerdict{
		MaliciousCount: stats.Malicious + stats.Suspicious,
		TotalEngines:   stats.Malicious + stats.Suspicious + stats.Harmless + stats.Undetected + stats.Timeout,
		SourceID:       report.Data.ID,
	}
	if report.Data.ID != "" {
		v.ReportLink = c.guiURL + "/url/" + report.Data.ID
	}
	if v.TotalEngines == 0 {
		// Known to the provider but no engine has reported yet.
		v.State = domain.ReputationPending
		return v
	}
	v.State = domain.ReputationComplete
	v.IsSecure = v.DetectionRatio() < SecureThreshold
	return v
}

func (c *Client) fetch(ctx context.Context, target string) (urlReport, error) {
	var report urlReport
	endpoint := c.baseURL + "/urls/" + base64.RawURLEncoding.EncodeToString([]byte(target))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return report, err
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(ctx, req)
	if err != nil {
		return report, err
	}
	if err := json.Unmarshal(body, &report); err != nil {
		return report, &ProviderError{Status: http.StatusOK, Failure: domain.FailureNetwork, Err: fmt.Errorf("decode report: %w", err)}
	}
	return report, nil
}

// Submit asks the provider to analyze target. Used when no analysis exists.
func (c *Client) Submit(ctx context.Context, target string) error {
	if c.apiKey == "" {
		return &ProviderError{Failure: domain.FailureMissingCredential}
	}
	form := url.Values{"url": {target}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/urls", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = c.do(ctx, req)
	return err
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &ProviderError{Failure: domain.FailureRateLimited, Err: err}
		}
	}
	req.Header.Set("x-apikey", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ProviderError{Failure: domain.FailureNetwork, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &ProviderError{Status: resp.StatusCode, Failure: domain.FailureNetwork, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, &ProviderError{Status: resp.StatusCode, Failure: classifyStatus(resp.StatusCode)}
}

func classifyStatus(code int) domain.Failure {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.FailureForbidden
	case http.StatusTooManyRequests:
		return domain.FailureRateLimited
	case http.StatusNotFound:
		return domain.FailureNotFound
	default:
		return domain.FailureNetwork
	}
}

func unavailable(f domain.Failure) domain.ReputationVerdict {
	return domain.ReputationVerdict{State: domain.ReputationUnavailable, Failure: f}
}
