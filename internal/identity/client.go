// Package identity signs users in against the remote identity provider.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
	"github.com/Kellyhimself/POS-sub002/pkg/httpclient"
)

const upstream = "identity"

// Identity is a successful online sign-in.
type Identity struct {
	UserID       string
	Email        string
	StoreID      string
	Metadata     map[string]any
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the access token's exp claim, zero when absent.
	ExpiresAt time.Time
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Data struct {
		User struct {
			ID       string         `json:"id"`
			Email    string         `json:"email"`
			StoreID  string         `json:"store_id"`
			Metadata map[string]any `json:"metadata"`
		} `json:"user"`
		Tokens struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"tokens"`
	} `json:"data"`
}

// Client calls the identity provider's login endpoint.
type Client struct {
	http    *httpclient.Client
	baseURL string
	logger  *slog.Logger
}

// New creates a client for baseURL.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	cfg := httpclient.DefaultConfig()
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return &Client{
		http:    httpclient.New(cfg),
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Login exchanges email and password for an identity. Bad credentials come
// back as apperrors.ErrUnauthorized; an unreachable provider as a transient
// error.
func (c *Client) Login(ctx context.Context, email, password string) (*Identity, error) {
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("marshal login request: %w", err)
	}

	resp, err := c.http.Post(ctx, c.baseURL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Unavailable("identity provider unreachable", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, upstream)
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.Unavailable("decode login response", err)
	}
	if parsed.Data.User.ID == "" || parsed.Data.Tokens.AccessToken == "" {
		return nil, apperrors.Unavailable("login response missing user or token", nil)
	}

	id := &Identity{
		UserID:       parsed.Data.User.ID,
		Email:        parsed.Data.User.Email,
		StoreID:      parsed.Data.User.StoreID,
		Metadata:     parsed.Data.User.Metadata,
		AccessToken:  parsed.Data.Tokens.AccessToken,
		RefreshToken: parsed.Data.Tokens.RefreshToken,
	}
	if id.Email == "" {
		id.Email = email
	}
	if exp, ok := TokenExpiry(id.AccessToken); ok {
		id.ExpiresAt = exp
	} else {
		c.logger.DebugContext(ctx, "access token carries no exp claim", slog.String("user_id", id.UserID))
	}
	return id, nil
}

// TokenExpiry reads the exp claim without verifying the signature. The
// provider is trusted over TLS; the claim only bounds the local session.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
