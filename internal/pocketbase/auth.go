package pocketbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrNotAuthenticated is returned by operations that need a signed-in user.
var ErrNotAuthenticated = errors.New("not authenticated")

// AuthStore holds the session token and the signed-in user's record.
type AuthStore struct {
	mu     sync.RWMutex
	token  string
	userID string
	record json.RawMessage
}

// Save replaces the session.
func (a *AuthStore) Save(token, userID string, record json.RawMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
	a.userID = userID
	a.record = record
}

// Clear signs the session out.
func (a *AuthStore) Clear() {
	a.Save("", "", nil)
}

// Token returns the session token, or "".
func (a *AuthStore) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// UserID returns the signed-in user's id, or "".
func (a *AuthStore) UserID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.userID
}

// Record decodes the signed-in user's record into out.
func (a *AuthStore) Record(out any) error {
	a.mu.RLock()
	rec := a.record
	a.mu.RUnlock()
	if len(rec) == 0 {
		return ErrNotAuthenticated
	}
	return json.Unmarshal(rec, out)
}

// Valid reports whether a session is present.
func (a *AuthStore) Valid() bool {
	return a.Token() != ""
}

// AuthResponse is the body returned by the auth endpoints.
type AuthResponse struct {
	Token  string          `json:"token"`
	Record json.RawMessage `json:"record"`
}

// AuthWithPassword signs in against an auth collection and stores the session.
func (c *Client) AuthWithPassword(ctx context.Context, collection, identity, password string) (AuthResponse, error) {
	body := map[string]string{"identity": identity, "password": password}
	r, err := jsonRequest(http.MethodPost, collection, "/api/collections/"+collection+"/auth-with-password", nil, body)
	if err != nil {
		return AuthResponse{}, err
	}
	var resp AuthResponse
	if err := c.do(ctx, r, &resp); err != nil {
		return AuthResponse{}, fmt.Errorf("signing in: %w", err)
	}
	if err := c.adopt(resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// AuthRefresh renews the current token and reloads the user record.
func (c *Client) AuthRefresh(ctx context.Context, collection string) (AuthResponse, error) {
	if !c.auth.Valid() {
		return AuthResponse{}, ErrNotAuthenticated
	}
	r := request{method: http.MethodPost, collection: collection, path: "/api/collections/" + collection + "/auth-refresh"}
	var resp AuthResponse
	if err := c.do(ctx, r, &resp); err != nil {
		return AuthResponse{}, fmt.Errorf("refreshing session: %w", err)
	}
	if err := c.adopt(resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

func (c *Client) adopt(resp AuthResponse) error {
	var rec struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Record, &rec); err != nil {
		return fmt.Errorf("decoding auth record: %w", err)
	}
	c.auth.Save(resp.Token, rec.ID, resp.Record)
	return nil
}
