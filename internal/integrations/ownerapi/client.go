package ownerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultPendingLimit = 100

	apiKeyHeader = "X-API-Key"
	pendingPath  = "/tracking-updates/pending-shipments"
	pushPath     = "/tracking-updates/shipment"
	maxErrBody   = 500
)

var (
	ErrAuth       = errors.New("owning api: credentials rejected")
	ErrValidation = errors.New("owning api: update rejected")
)

// HTTPError is any non-2xx answer (StatusCode 0 means the request never got one).
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *HTTPError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error { return e.Err }

type Client struct {
	baseURL      string
	apiKey       string
	pendingLimit int
	httpc        *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		pendingLimit: DefaultPendingLimit,
		httpc:        &http.Client{Timeout: timeout},
	}
}

func (c *Client) WithPendingLimit(limit int) *Client {
	if limit > 0 {
		c.pendingLimit = limit
	}
	return c
}

type pendingShipment struct {
	InvoiceNumber string `json:"invoice_number"`
	Document      string `json:"document"`
}

func (c *Client) ListPending(ctx context.Context) ([]models.ShipmentRef, error) {
	u, err := url.Parse(c.baseURL + pendingPath)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(c.pendingLimit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	var items []pendingShipment
	if err := c.do(req, "list pending", &items); err != nil {
		return nil, err
	}

	out := make([]models.ShipmentRef, 0, len(items))
	for _, it := range items {
		out = append(out, models.ShipmentRef{InvoiceNumber: it.InvoiceNumber, Document: it.Document})
	}
	return out, nil
}

// PushUpdate sends the full event sequence; the owning API upserts by
// (invoice_number, document), so repeating a push is harmless.
func (c *Client) PushUpdate(ctx context.Context, upd models.ShipmentUpdate) error {
	b, err := json.Marshal(upd)
	if err != nil {
		return errors.Wrap(err, "marshal update")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pushPath, bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "push update", nil)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &HTTPError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		herr := &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			herr.Err = ErrAuth
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			herr.Err = ErrValidation
		}
		return herr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "%s: decode", op)
	}
	return nil
}
