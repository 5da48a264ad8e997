package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTokenLifetime = time.Hour
	expiryMargin         = 5 * time.Minute
)

// TokenManager manages the user access token lifecycle against /auth/v1/token
type TokenManager struct {
	mu              sync.RWMutex
	token           string
	refreshToken    string
	userID          FlexibleID
	lastRefresh     time.Time
	expiresAt       time.Time // Token expiration time
	refreshInterval time.Duration
	baseURL         string
	anonKey         string
	email           string
	password        string
	httpClient      *http.Client
	logger          *zap.Logger
	ctx             context.Context
	cancel          context.CancelFunc
}

// NewTokenManager creates a new token manager.
// A refresh token is preferred; email and password are used when it is empty or rejected.
func NewTokenManager(baseURL, anonKey, email, password, refreshToken string, refreshInterval time.Duration, logger *zap.Logger) *TokenManager {
	ctx, cancel := context.WithCancel(context.Background())

	return &TokenManager{
		refreshToken:    refreshToken,
		refreshInterval: refreshInterval,
		baseURL:         strings.TrimRight(baseURL, "/"),
		anonKey:         anonKey,
		email:           email,
		password:        password,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start gets the initial token and starts automatic token refresh
func (tm *TokenManager) Start() error {
	if err := tm.Refresh(); err != nil {
		return fmt.Errorf("failed to get initial token: %w", err)
	}

	go tm.refreshLoop()

	tm.logger.Info("Token manager started",
		zap.Duration("refresh_interval", tm.refreshInterval))

	return nil
}

// Stop stops the token manager
func (tm *TokenManager) Stop() {
	tm.cancel()
	tm.logger.Info("Token manager stopped")
}

// GetToken returns current valid token
func (tm *TokenManager) GetToken() (string, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	if tm.token == "" {
		return "", fmt.Errorf("token not available")
	}

	return tm.token, nil
}

// UserID returns the id of the authenticated practitioner
func (tm *TokenManager) UserID() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.userID.String()
}

// IsTokenValid checks if current token is still valid
// Token is considered valid if it has more than 5 minutes until expiration
func (tm *TokenManager) IsTokenValid() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	if tm.token == "" {
		return false
	}

	return time.Until(tm.expiresAt) > expiryMargin
}

// Refresh refreshes the access token
func (tm *TokenManager) Refresh() error {
	if tm.IsTokenValid() {
		tm.logger.Debug("Token is still valid, skipping refresh",
			zap.Duration("time_until_expiry", time.Until(tm.expiresAt)))
		return nil
	}

	resp, err := tm.requestToken()
	if err != nil {
		tm.logger.Error("Failed to refresh access token", zap.Error(err))

		// Keep serving the previous token; the backend rejects it once really expired
		tm.mu.RLock()
		hasExistingToken := tm.token != ""
		tm.mu.RUnlock()

		if hasExistingToken {
			tm.logger.Warn("Continuing with existing token despite refresh failure")
			return nil
		}

		return err
	}

	lifetime := time.Duration(resp.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}

	now := time.Now()
	expiresAt := now.Add(lifetime)

	tm.mu.Lock()
	tm.token = resp.AccessToken
	if resp.RefreshToken != "" {
		tm.refreshToken = resp.RefreshToken
	}
	if resp.User.ID != "" {
		tm.userID = resp.User.ID
	}
	tm.lastRefresh = now
	tm.expiresAt = expiresAt
	tm.mu.Unlock()

	tm.logger.Info("Access token refreshed successfully",
		zap.Time("last_refresh", now),
		zap.Time("expires_at", expiresAt),
		zap.Duration("lifetime", lifetime))

	return nil
}

// GetLastRefreshTime returns the last time token was refreshed
func (tm *TokenManager) GetLastRefreshTime() time.Time {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.lastRefresh
}

// refreshLoop periodically refreshes the token
func (tm *TokenManager) refreshLoop() {
	ticker := time.NewTicker(tm.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tm.ctx.Done():
			return
		case <-ticker.C:
			if err := tm.Refresh(); err != nil {
				tm.logger.Error("Failed to refresh token in background",
					zap.Error(err))
			}
		}
	}
}

// requestToken tries the refresh token grant first, then the password grant
func (tm *TokenManager) requestToken() (*tokenResponse, error) {
	tm.mu.RLock()
	refreshToken := tm.refreshToken
	tm.mu.RUnlock()

	if refreshToken != "" {
		resp, err := tm.grant("refresh_token", map[string]string{"refresh_token": refreshToken})
		if err == nil {
			return resp, nil
		}
		if tm.email == "" {
			return nil, err
		}
		tm.logger.Warn("Refresh token rejected, falling back to password grant", zap.Error(err))
	}

	if tm.email == "" || tm.password == "" {
		return nil, fmt.Errorf("no credentials configured")
	}

	return tm.grant("password", map[string]string{
		"email":    tm.email,
		"password": tm.password,
	})
}

// grant performs POST /auth/v1/token?grant_type=<grantType>
func (tm *TokenManager) grant(grantType string, body map[string]string) (*tokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/auth/v1/token?grant_type=%s", tm.baseURL, grantType)
	req, err := http.NewRequestWithContext(tm.ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("apikey", tm.anonKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp.StatusCode, respBody)
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("empty access token received (grant %s)", grantType)
	}

	return &tr, nil
}
