// Package agol talks to an ArcGIS portal's sharing REST API. The processing
// engine pulls hosted layers itself; this client only proves the configured
// items are reachable before a job is dispatched.
package agol

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
)

const preflightConcurrency = 4

// Client holds portal credentials and a cached short-lived token.
type Client struct {
	http         *resty.Client
	portal       string
	username     string
	password     string
	tokenMinutes int

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewClient builds a client for the portal at portalURL, e.g.
// "https://myorg.maps.arcgis.com".
func NewClient(portalURL, username, password string, tokenMinutes int) *Client {
	if tokenMinutes <= 0 {
		tokenMinutes = 60
	}
	return &Client{
		http:         resty.New().SetTimeout(30 * time.Second),
		portal:       portalURL,
		username:     username,
		password:     password,
		tokenMinutes: tokenMinutes,
	}
}

// apiError is the portal's JSON error envelope. The portal reports failures
// inside a 200 response, so HTTP status alone proves nothing.
type apiError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("portal error %d: %s", e.Code, e.Message)
}

type tokenResponse struct {
	Token   string    `json:"token"`
	Expires int64     `json:"expires"`
	Error   *apiError `json:"error"`
}

// Item is the subset of portal item metadata the preflight cares about.
type Item struct {
	Id    string    `json:"id"`
	Title string    `json:"title"`
	Type  string    `json:"type"`
	Owner string    `json:"owner"`
	Error *apiError `json:"error"`
}

// Token returns a cached portal token, requesting a fresh one when the
// current token is within a minute of expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.expires) > time.Minute {
		return c.token, nil
	}

	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username":   c.username,
			"password":   c.password,
			"client":     "referer",
			"referer":    c.portal,
			"expiration": strconv.Itoa(c.tokenMinutes),
			"f":          "json",
		}).
		SetResult(&out).
		ForceContentType("application/json").
		Post(c.portal + "/sharing/rest/generateToken")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("generateToken: unexpected status %s", resp.Status())
	}
	if out.Error != nil {
		return "", out.Error
	}
	if out.Token == "" {
		return "", errors.New("generateToken: empty token in response")
	}

	c.token = out.Token
	c.expires = time.UnixMilli(out.Expires)
	return c.token, nil
}

// ItemInfo fetches metadata for one portal item.
func (c *Client) ItemInfo(ctx context.Context, itemID string) (*Item, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	var out Item
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"f": "json", "token": token}).
		SetResult(&out).
		ForceContentType("application/json").
		Get(fmt.Sprintf("%s/sharing/rest/content/items/%s", c.portal, url.PathEscape(itemID)))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("item %s: unexpected status %s", itemID, resp.Status())
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if out.Id == "" {
		return nil, fmt.Errorf("item %s: empty response", itemID)
	}
	return &out, nil
}

// Preflight verifies every item is visible with the configured credentials.
// Lookups run concurrently; the first failure cancels the rest.
func (c *Client) Preflight(ctx context.Context, itemIDs []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(preflightConcurrency)
	for _, id := range itemIDs {
		id := id
		g.Go(func() error {
			if _, err := c.ItemInfo(ctx, id); err != nil {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
