// Package backend is the REST client for the remote storefront backend,
// which owns the product catalog, the offer pool, and the claim registry.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gemloft/storefront/internal/pricing"
)

var (
	// ErrEndpointAbsent signals a 404 from the offers endpoints: the backend
	// deployment does not carry the offers module. Callers switch to the
	// local fallback claim path.
	ErrEndpointAbsent = errors.New("offers endpoint absent")

	// ErrUnreachable wraps transport-level failures (DNS, refused
	// connections, timeouts). It is the engine's NetworkError category.
	ErrUnreachable = errors.New("backend unreachable")
)

// StatusError is a non-2xx backend response with its body message.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
}

// ClaimGrant is the backend's answer to a subscribe call. Remaining is only
// meaningful when RemainingSet is true; the backend may omit the counter.
type ClaimGrant struct {
	CouponCode   string
	Remaining    int
	RemainingSet bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, primarily for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTransport wraps the given RoundTripper with otelhttp instrumentation.
func WithTransport(rt http.RoundTripper, opts ...otelhttp.Option) Option {
	return func(c *Client) {
		c.http.Transport = otelhttp.NewTransport(rt, opts...)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// Client talks to the storefront backend over HTTP.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse backend URL")
	}
	c := &Client{
		base: base,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CheckClaim asks the claim registry whether the given (already normalized)
// email has claimed the offer.
func (c *Client) CheckClaim(ctx context.Context, email string) (bool, error) {
	u := c.endpoint("/offers/check")
	u.RawQuery = url.Values{"email": {email}}.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return false, err
	}

	var claimed bool
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "claimed" {
			return d.Skip()
		}
		v, err := d.Bool()
		if err != nil {
			return err
		}
		claimed = v
		return nil
	}); err != nil {
		return false, errors.Wrap(err, "decode check response")
	}
	return claimed, nil
}

// Subscribe registers the email in the claim registry and returns the issued
// coupon code plus, optionally, the updated pool counter. A 404 maps to
// ErrEndpointAbsent.
func (c *Client) Subscribe(ctx context.Context, email string) (ClaimGrant, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("email", func(e *jx.Encoder) { e.Str(email) })
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("/offers/subscribe").String(), bytes.NewReader(e.Bytes()))
	if err != nil {
		return ClaimGrant{}, errors.Wrap(err, "build subscribe request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ClaimGrant{}, errors.Wrap(ErrUnreachable, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ClaimGrant{}, errors.Wrap(ErrUnreachable, err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ClaimGrant{}, ErrEndpointAbsent
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return ClaimGrant{}, &StatusError{Code: resp.StatusCode, Message: extractMessage(body)}
	}

	var grant ClaimGrant
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "couponCode":
			v, err := d.Str()
			if err != nil {
				return err
			}
			grant.CouponCode = v
			return nil
		case "remainingOffers":
			v, err := d.Int()
			if err != nil {
				return err
			}
			grant.Remaining = v
			grant.RemainingSet = true
			return nil
		default:
			return d.Skip()
		}
	}); err != nil {
		return ClaimGrant{}, errors.Wrap(err, "decode subscribe response")
	}
	return grant, nil
}

// ListProducts fetches the catalog. Records are decoded leniently; malformed
// price fields survive as absent values that the pricing package can flag.
func (c *Client) ListProducts(ctx context.Context) ([]pricing.Product, error) {
	body, err := c.get(ctx, c.endpoint("/api/products").String())
	if err != nil {
		return nil, err
	}

	var products []pricing.Product
	d := jx.DecodeBytes(body)
	if err := d.Arr(func(d *jx.Decoder) error {
		p, err := pricing.DecodeProduct(d)
		if err != nil {
			return err
		}
		products = append(products, p)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return products, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrUnreachable, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return nil, errors.Wrap(ErrUnreachable, err.Error())
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrEndpointAbsent
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Message: extractMessage(body)}
	}
	return body, nil
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return &u
}

// extractMessage pulls a human-readable message out of an error body,
// accepting both {"message": "..."} / {"error": "..."} objects and plain
// text.
func extractMessage(body []byte) string {
	var msg string
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "message", "error":
			v, err := d.Str()
			if err != nil {
				return err
			}
			if msg == "" {
				msg = v
			}
			return nil
		default:
			return d.Skip()
		}
	}); err == nil && msg != "" {
		return msg
	}
	return strings.TrimSpace(string(body))
}
