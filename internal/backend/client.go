package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/username/session-planner/pkg/random"
	"go.uber.org/zap"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetries    = 3
	defaultRetryDelay = time.Second
	retryJitter       = 20 // percent
)

// ErrSessionNotFound is returned when no row matches the requested id
var ErrSessionNotFound = errors.New("session not found")

// TokenSource provides the bearer token sent with every request
type TokenSource interface {
	GetToken() (string, error)
}

// StaticToken is a TokenSource with a fixed token, e.g. a service role key
type StaticToken string

// GetToken returns the token
func (s StaticToken) GetToken() (string, error) {
	if s == "" {
		return "", fmt.Errorf("token not available")
	}
	return string(s), nil
}

// Client represents the backend REST API client
type Client struct {
	baseURL    string
	anonKey    string
	table      string
	tokens     TokenSource
	httpClient *http.Client
	logger     *zap.Logger
	retryDelay time.Duration
}

// NewClient creates a new backend REST client
func NewClient(baseURL, anonKey, table string, timeout time.Duration, tokens TokenSource, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if table == "" {
		table = "sessions"
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		table:   table,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:     logger,
		retryDelay: defaultRetryDelay,
	}
}

// GetSession returns a single session by id
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	query := url.Values{}
	query.Set("id", "eq."+id)
	query.Set("select", "*")

	var sessions []Session
	if err := c.doRequest(ctx, http.MethodGet, c.tablePath(), query, nil, &sessions); err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	if len(sessions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	return &sessions[0], nil
}

// ListSessions returns the sessions of a patient between from and to, inclusive
func (c *Client) ListSessions(ctx context.Context, patientID string, from, to time.Time) ([]Session, error) {
	query := url.Values{}
	query.Set("patient_id", "eq."+patientID)
	query.Add("session_date", "gte."+from.Format(DateLayout))
	query.Add("session_date", "lte."+to.Format(DateLayout))
	query.Set("order", "session_date.asc,start_time.asc")
	query.Set("select", "*")

	var sessions []Session
	if err := c.doRequest(ctx, http.MethodGet, c.tablePath(), query, nil, &sessions); err != nil {
		return nil, fmt.Errorf("failed to list sessions for patient %s: %w", patientID, err)
	}

	c.logger.Info("Sessions retrieved",
		zap.String("patient_id", patientID),
		zap.String("from", from.Format(DateLayout)),
		zap.String("to", to.Format(DateLayout)),
		zap.Int("count", len(sessions)))

	return sessions, nil
}

// CreateSession creates a new session row
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	var created []Session
	if err := c.doRequest(ctx, http.MethodPost, c.tablePath(), nil, req, &created); err != nil {
		return nil, fmt.Errorf("failed to create session on %s: %w", req.SessionDate, err)
	}

	if len(created) == 0 {
		return nil, fmt.Errorf("failed to create session on %s: empty representation", req.SessionDate)
	}

	c.logger.Info("Session created",
		zap.String("id", created[0].ID.String()),
		zap.String("patient_id", req.PatientID.String()),
		zap.String("date", req.SessionDate))

	return &created[0], nil
}

// DeleteSession deletes a session row
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	query := url.Values{}
	query.Set("id", "eq."+id)

	if err := c.doRequest(ctx, http.MethodDelete, c.tablePath(), query, nil, nil); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}

	c.logger.Info("Session deleted", zap.String("id", id))

	return nil
}

func (c *Client) tablePath() string {
	return "/rest/v1/" + c.table
}

// doRequest performs HTTP request with authentication.
// Reads retry server errors and transport failures, creates see retryable.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}, result interface{}) error {
	var payload []byte
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = jsonData
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= defaultRetries; attempt++ {
		err := c.doRequestOnce(ctx, method, endpoint, payload, result)
		if err == nil {
			return nil
		}

		lastErr = err

		if !retryable(method, err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		c.logger.Warn("Request failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", defaultRetries),
			zap.Error(err))

		if attempt < defaultRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(random.Backoff(c.retryDelay, attempt, retryJitter)):
			}
		}
	}

	return fmt.Errorf("request failed after %d attempts: %w", defaultRetries, lastErr)
}

// retryable reports whether a failed request may be sent again. A create is
// only resent on 429 and 503, where the backend did not write the row.
func retryable(method string, err error) bool {
	var apiErr *APIError
	isAPIErr := errors.As(err, &apiErr)
	if method == http.MethodPost {
		return isAPIErr && (apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusServiceUnavailable)
	}
	return !isAPIErr || apiErr.Temporary()
}

// doRequestOnce performs a single HTTP request
func (c *Client) doRequestOnce(ctx context.Context, method, endpoint string, payload []byte, result interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.tokens.GetToken()
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}
