package nasd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nasopt/dynas/pkg/logger"
	"github.com/nasopt/dynas/pkg/utils"
)

// CallbackSecretHeader carries the secret submitted with a search
const CallbackSecretHeader = "X-Dynas-Callback-Secret"

const defaultNotifyAttempts = 3

var (
	ErrInvalidURL       = errors.New("invalid callback URL")
	ErrMetadataEndpoint = errors.New("callback URL targets a cloud metadata endpoint")
	ErrInternalHost     = errors.New("callback URL targets an internal address")
)

var metadataHosts = map[string]bool{
	"169.254.169.254":          true,
	"metadata.google.internal": true,
	"metadata":                 true,
	"fd00:ec2::254":            true,
}

// ValidateCallbackURL rejects callback URLs that are not http(s) or that
// point at metadata endpoints or literal private addresses. The hostname
// localhost is allowed for development.
func ValidateCallbackURL(raw string) error {
	u, err := url.Parse(strings.ReplaceAll(raw, "{search_id}", "x"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if metadataHosts[host] {
		return fmt.Errorf("%w: %s", ErrMetadataEndpoint, host)
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsUnspecified() || isPrivateIP(ip)) {
		return fmt.Errorf("%w: %s", ErrInternalHost, host)
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// NotificationPayload is the JSON body posted to a callback URL
type NotificationPayload struct {
	SearchID        string         `json:"search_id"`
	Status          string         `json:"status"`
	CreatedAtUnixMs int64          `json:"created_at_unix_ms"`
	StartedAtUnixMs int64          `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64          `json:"ended_at_unix_ms,omitempty"`
	Error           string         `json:"error,omitempty"`
	Summary         map[string]any `json:"summary,omitempty"`
	Timestamp       int64          `json:"timestamp"`
}

// Notifier posts search completion to callback URLs with retries
type Notifier struct {
	httpClient *http.Client
	backoff    utils.Policy
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewNotifier() *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		backoff:    utils.ExponentialPolicy(time.Second, 30*time.Second, true),
		logger:     logger.For("notifier"),
	}
}

// WithBackoff replaces the delay strategy between attempts
func (n *Notifier) WithBackoff(b utils.Policy) *Notifier {
	n.backoff = b
	return n
}

// Notify posts rec to callbackURL in the background. {search_id} in the URL
// is replaced by the search ID. attempts <= 0 means the default of 3.
func (n *Notifier) Notify(callbackURL, secret string, rec *SearchRecord, attempts int) {
	if callbackURL == "" {
		return
	}
	if rec == nil {
		n.logger.Warn("cannot notify: no search record", "callback_url", callbackURL)
		return
	}

	if err := ValidateCallbackURL(callbackURL); err != nil {
		n.logger.Warn("callback URL rejected", "search_id", rec.ID, "error", err)
		return
	}

	url := strings.ReplaceAll(callbackURL, "{search_id}", rec.ID)
	payload := NotificationPayload{
		SearchID:        rec.ID,
		Status:          string(rec.Status),
		CreatedAtUnixMs: unixMs(rec.CreatedAt),
		StartedAtUnixMs: unixMs(rec.StartedAt),
		EndedAtUnixMs:   unixMs(rec.EndedAt),
		Error:           rec.Error,
		Timestamp:       time.Now().UTC().UnixMilli(),
	}
	if rec.Outcome != nil {
		payload.Summary = outcomeSummaryToMap(rec.Outcome)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.Send(context.Background(), url, secret, payload, attempts); err != nil {
			n.logger.Error("failed to send notification", "callback_url", url, "search_id", rec.ID, "error", err)
		}
	}()
}

// Wait blocks until every notification in flight has been sent or given up
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Send posts payload to url, retrying failed and non-2xx attempts
func (n *Notifier) Send(ctx context.Context, url, secret string, payload NotificationPayload, attempts int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if attempts <= 0 {
		attempts = defaultNotifyAttempts
	}

	err = utils.Retry(ctx, attempts, n.backoff, func(attempt int) error {
		return n.post(ctx, url, secret, body, payload.SearchID, attempt)
	})
	if err != nil {
		return err
	}
	n.logger.Info("notification sent", "search_id", payload.SearchID, "status", payload.Status)
	return nil
}

func (n *Notifier) post(ctx context.Context, url, secret string, body []byte, searchID string, attempt int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "nasd/1.0")
	if secret != "" {
		req.Header.Set(CallbackSecretHeader, secret)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("notification attempt failed", "search_id", searchID, "attempt", attempt+1, "error", err)
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	n.logger.Warn("notification returned non-2xx status",
		"search_id", searchID,
		"status_code", resp.StatusCode,
		"response_body", string(snippet),
		"attempt", attempt+1,
	)
	err = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	if retryableStatus(resp.StatusCode) {
		return err
	}
	return backoff.Permanent(err)
}

// retryableStatus is false for client errors the receiver will repeat
func retryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code < 400 || code >= 500
}
