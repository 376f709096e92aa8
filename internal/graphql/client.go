// Package graphql is the client for the remote note service.
package graphql

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/machinebox/graphql"

	"github.com/starford/quill/internal/models"
)

// APIKeyHeader carries the service API key.
const APIKeyHeader = "x-api-key"

// ErrMalformedResponse is returned when the service answers without the
// expected payload.
var ErrMalformedResponse = errors.New("graphql: malformed response")

// Client talks to the note service over GraphQL.
type Client struct {
	gql    *graphql.Client
	apiKey string
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	timeout    time.Duration
	apiKey     string
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = hc
	}
}

// WithTimeout bounds each request. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithAPIKey sends key in the x-api-key header.
func WithAPIKey(key string) Option {
	return func(o *clientOptions) {
		o.apiKey = key
	}
}

// New creates a client for the service at endpoint.
func New(endpoint string, opts ...Option) *Client {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: o.timeout}
	}
	return &Client{
		gql:    graphql.NewClient(endpoint, graphql.WithHTTPClient(hc)),
		apiKey: o.apiKey,
	}
}

type listNotesResponse struct {
	ListNotes *struct {
		Items []models.Note `json:"items"`
	} `json:"listNotes"`
}

// ListNotes fetches every note in server order.
func (c *Client) ListNotes(ctx context.Context) ([]models.Note, error) {
	var resp listNotesResponse
	if err := c.run(ctx, c.request(ListNotesQuery), &resp); err != nil {
		return nil, fmt.Errorf("graphql: list notes: %w", err)
	}
	if resp.ListNotes == nil {
		return nil, fmt.Errorf("list notes: %w", ErrMalformedResponse)
	}
	if resp.ListNotes.Items == nil {
		return []models.Note{}, nil
	}
	return resp.ListNotes.Items, nil
}

// CreateNote stores n. The acknowledgement payload is ignored.
func (c *Client) CreateNote(ctx context.Context, n models.Note) error {
	req := c.request(CreateNoteMutation)
	req.Var("input", n)
	if err := c.run(ctx, req, &struct{}{}); err != nil {
		return fmt.Errorf("graphql: create note %s: %w", n.ID, err)
	}
	return nil
}

// DeleteNote removes the note with id.
func (c *Client) DeleteNote(ctx context.Context, id string) error {
	req := c.request(DeleteNoteMutation)
	req.Var("id", id)
	if err := c.run(ctx, req, &struct{}{}); err != nil {
		return fmt.Errorf("graphql: delete note %s: %w", id, err)
	}
	return nil
}

func (c *Client) request(q string) *graphql.Request {
	req := graphql.NewRequest(q)
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}
	return req
}

func (c *Client) run(ctx context.Context, req *graphql.Request, resp any) error {
	return c.gql.Run(ctx, req, resp)
}
