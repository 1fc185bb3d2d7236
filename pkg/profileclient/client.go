// Package profileclient talks to the profile service over HTTP and plugs
// into profileview as both its Auth and its Backend.
package profileclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"homefinder/internal/util"
	"homefinder/pkg/domain"
)

// APIError is a non-2xx answer from the profile service.
type APIError struct {
	Status    int
	Message   string
	Code      string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// Client is bound to one bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Session returns the signed-in identity.
func (c *Client) Session(ctx context.Context) (domain.Session, error) {
	var out struct {
		Session domain.Session `json:"session"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/profile", nil, nil, &out); err != nil {
		return domain.Session{}, err
	}
	return out.Session, nil
}

func (c *Client) UpdateDisplayName(ctx context.Context, name string) error {
	payload := map[string]string{"displayName": name}
	return c.doJSON(ctx, http.MethodPatch, "/api/profile/display-name", nil, payload, nil)
}

// SignOut ends the session server side. The redirect target in the answer
// is ignored; callers navigate on their own.
func (c *Client) SignOut(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/profile/logout", nil, nil, nil)
}

func (c *Client) ListListingsByOwner(ctx context.Context, ownerRef string) ([]domain.Listing, error) {
	path := "/api/profile/listings"
	if ownerRef != "" {
		path += "?owner=" + url.QueryEscape(ownerRef)
	}
	var out struct {
		Items []domain.Listing `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// DeleteListing sends an already confirmed delete.
func (c *Client) DeleteListing(ctx context.Context, id string) error {
	headers := map[string]string{"X-Confirm-Delete": "true"}
	return c.doJSON(ctx, http.MethodDelete, "/api/profile/listings/"+url.PathEscape(id), headers, nil, nil)
}

// UpdateUserProfile writes the profile document. The service keys it by the
// token's user, so userID is not sent.
func (c *Client) UpdateUserProfile(ctx context.Context, _ string, form domain.ProfileForm) error {
	return c.doJSON(ctx, http.MethodPut, "/api/profile/document", nil, form, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, headers map[string]string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := util.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(util.RequestIDHeader, id)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error     string `json:"error"`
			Code      string `json:"code"`
			RequestID string `json:"requestId"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Code: errResp.Code, RequestID: errResp.RequestID}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
