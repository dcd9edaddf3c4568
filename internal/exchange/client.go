// Package exchange implements the Polymarket CLOB REST client used to seed
// order books, plus the rate limiting shared with the WebSocket dialer.
//
// The REST surface here is intentionally small — the book endpoints are
// public, so no request signing is involved:
//   - GetOrderBook:  GET  /book?token_id=... — fetch the L2 book for one token
//   - GetOrderBooks: POST /books             — batch fetch, chunked client-side
//
// Every request is rate-limited via the Book token bucket and automatically
// retried on 5xx errors.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-ws/pkg/types"
)

// booksChunkSize caps how many tokens go into a single POST /books request.
const booksChunkSize = 100

// Client is the Polymarket CLOB REST API client for book reads.
type Client struct {
	http   *resty.Client // HTTP client with retry + base URL
	books  *TokenBucket  // book-read rate limiting
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		books:  NewTokenBucket(bookBurst, bookRefillPerSec),
		logger: logger.With("component", "clob_rest"),
	}
}

// GetOrderBook fetches the order book for a single token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	if err := c.books.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetOrderBooks fetches books for multiple tokens, chunking the batch
// endpoint so a large group never exceeds the request size the CLOB accepts.
func (c *Client) GetOrderBooks(ctx context.Context, tokenIDs []string) ([]types.BookResponse, error) {
	out := make([]types.BookResponse, 0, len(tokenIDs))

	for start := 0; start < len(tokenIDs); start += booksChunkSize {
		end := start + booksChunkSize
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}

		if err := c.books.Wait(ctx); err != nil {
			return nil, err
		}

		params := make([]types.BookParams, 0, end-start)
		for _, id := range tokenIDs[start:end] {
			params = append(params, types.BookParams{TokenID: id})
		}

		var chunk []types.BookResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(params).
			SetResult(&chunk).
			Post("/books")
		if err != nil {
			return nil, fmt.Errorf("get books: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("get books: status %d: %s", resp.StatusCode(), resp.String())
		}

		c.logger.Debug("fetched book chunk", "requested", end-start, "received", len(chunk))
		out = append(out, chunk...)
	}
	return out, nil
}
