package sswhttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/TrackSync/internal/integrations/carrier"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://ssw.inf.br"
	DefaultTimeout = 10 * time.Second

	lookupPath   = "/2/resultSSW_dest_nro"
	maxBodyBytes = 2 << 20
)

type Client struct {
	baseURL   string
	userAgent string
	httpc     *http.Client
	now       func() time.Time
}

func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "track-sync/1.0",
		httpc: &http.Client{
			Timeout: timeout,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (c *Client) WithUserAgent(ua string) *Client {
	if ua != "" {
		c.userAgent = ua
	}
	return c
}

// Fetch posts the destination document and invoice number to the SSW lookup form.
func (c *Client) Fetch(ctx context.Context, ref models.ShipmentRef) (carrier.RawPage, error) {
	form := url.Values{}
	form.Set("cnpjdest", ref.Document)
	form.Set("NR", ref.InvoiceNumber)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+lookupPath, strings.NewReader(form.Encode()))
	if err != nil {
		return carrier.RawPage{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.RawPage{}, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return carrier.RawPage{}, errors.Wrapf(carrier.ErrTransport, "ssw http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return carrier.RawPage{}, classifyTransportErr(err)
	}

	switch cl := carrier.Classify(body); cl.Kind {
	case carrier.PageNotFound:
		return carrier.RawPage{}, errors.Wrapf(carrier.ErrNotFound, "ssw: %s", cl.Reason)
	case carrier.PageMalformed:
		return carrier.RawPage{}, errors.Wrapf(carrier.ErrMalformedPage, "ssw: %s", cl.Reason)
	}

	return carrier.RawPage{
		Shipment:  ref,
		Body:      body,
		FetchedAt: c.now(),
	}, nil
}

func classifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(carrier.ErrTimeout, err.Error())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Wrap(carrier.ErrTimeout, err.Error())
	}
	return errors.Wrap(carrier.ErrTransport, fmt.Sprintf("do request: %v", err))
}
