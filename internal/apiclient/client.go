// Package apiclient wraps the marketplace backend's JSON-over-HTTP API. All
// calls are routed through the request queue so that bursts are paced and
// identical in-flight requests collapse onto one execution.
package apiclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"marketplace-service/internal/models"
	"marketplace-service/internal/queue"
)

// Error is a status-coded backend failure. The queue inspects the code to
// decide retry eligibility.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend api: status %d: %s", e.Status, e.Message)
}

// StatusCode implements queue.StatusCoder.
func (e *Error) StatusCode() int {
	return e.Status
}

// Priorities for backend calls. Token validation sits on the request path of
// every handler and outranks listing lookups.
const (
	PriorityAuth    = 10
	PriorityListing = 5
)

// Client talks to the marketplace backend.
type Client struct {
	http  *resty.Client
	queue *queue.Queue
}

// New builds a Client. Retries are owned by the queue, so the resty client
// carries only the per-request timeout.
func New(baseURL, apiKey string, q *queue.Queue, timeout time.Duration) *Client {
	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		http.SetHeader("X-Api-Key", apiKey)
	}
	return &Client{http: http, queue: q}
}

// ValidateToken resolves a bearer token to an identity.
func (c *Client) ValidateToken(ctx context.Context, token string) (models.Identity, error) {
	result, err := c.queue.Enqueue(ctx, func(ctx context.Context) (any, error) {
		var identity models.Identity
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+token).
			SetResult(&identity).
			Get("/auth/me")
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, &Error{Status: resp.StatusCode(), Message: resp.String()}
		}
		return identity, nil
	}, queue.TaskOptions{
		ID:         "auth:" + token,
		Priority:   PriorityAuth,
		MaxRetries: 1,
	})
	if err != nil {
		return models.Identity{}, err
	}
	return result.(models.Identity), nil
}

// GetListing fetches a single vehicle listing.
func (c *Client) GetListing(ctx context.Context, listingID string) (models.Listing, error) {
	result, err := c.queue.Enqueue(ctx, func(ctx context.Context) (any, error) {
		var listing models.Listing
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&listing).
			Get("/listings/" + listingID)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, &Error{Status: resp.StatusCode(), Message: resp.String()}
		}
		return listing, nil
	}, queue.TaskOptions{
		ID:         "listing:" + listingID,
		Priority:   PriorityListing,
		MaxRetries: 2,
	})
	if err != nil {
		return models.Listing{}, err
	}
	return result.(models.Listing), nil
}

// BulkListings fetches several listings in one call.
func (c *Client) BulkListings(ctx context.Context, listingIDs []string) ([]models.Listing, error) {
	if len(listingIDs) == 0 {
		return nil, nil
	}
	ids := strings.Join(listingIDs, ",")
	result, err := c.queue.Enqueue(ctx, func(ctx context.Context) (any, error) {
		var payload struct {
			Listings []models.Listing `json:"listings"`
		}
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("ids", ids).
			SetResult(&payload).
			Get("/listings")
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, &Error{Status: resp.StatusCode(), Message: resp.String()}
		}
		return payload.Listings, nil
	}, queue.TaskOptions{
		ID:         "listings:" + ids,
		Priority:   PriorityListing,
		MaxRetries: 2,
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Listing), nil
}
