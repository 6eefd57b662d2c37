package api

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

	"github.com/cockroachdb/errors"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/app/dex"
)

// StatusError is a non-2xx answer from a node
type StatusError struct {
	Status int
	Body   ErrorResponse
}

func (e *StatusError) Error() string {
	if e.Body.Message != "" {
		return fmt.Sprintf("http %d: %s: %s", e.Status, e.Body.Error, e.Body.Message)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Body.Error)
}

// Client talks to a node's REST API
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) ExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	var out ExchangeInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/exchange", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events fetches up to limit events starting at from. Its signature matches
// p2p.Backfill.
func (c *Client) Events(ctx context.Context, from uint64, limit int) ([]exchange.Event, error) {
	q := url.Values{}
	q.Set("from", fmt.Sprint(from))
	q.Set("limit", fmt.Sprint(limit))
	var out EventsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/events?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) Submit(ctx context.Context, tx *transaction.SignedTransaction) (*dex.Receipt, error) {
	body, err := tx.Serialize()
	if err != nil {
		return nil, errors.Wrap(err, "serialize transaction")
	}
	var out dex.Receipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/tx", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		se := &StatusError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&se.Body); err != nil {
			se.Body.Error = http.StatusText(resp.StatusCode)
		}
		return se
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decode %s", path)
}
