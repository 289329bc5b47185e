// Package trello is a minimal read-only client for the Trello REST API.
// Only the list-cards endpoint is used; everything else about a board is
// configured out-of-band.
package trello

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/robb-j/husky-cms/internal/card"
	"github.com/robb-j/husky-cms/internal/xerrors"
)

const (
	DefaultBaseURL = "https://api.trello.com/1"

	// CardFields is the field selector sent on every list request.
	CardFields = "desc,descData,labels,name,pos,url,idAttachmentCover,dateLastActivity"

	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 16 << 20
)

type Options struct {
	BaseURL string
	AppKey  string
	Token   string

	// Timeout bounds a single request, including waiting on the limiter
	Timeout time.Duration

	// RatePerSecond and Burst shape outbound calls. Trello allows 100 requests
	// per 10s per token, the defaults stay well under that.
	RatePerSecond float64
	Burst         int

	// UserAgent is sent on every request when set
	UserAgent string

	// Transport is the base round tripper, wrapped with otelhttp. nil means http.DefaultTransport
	Transport http.RoundTripper
}

type Client struct {
	base    *url.URL
	key     string
	token   string
	timeout time.Duration
	agent   string
	limiter *rate.Limiter
	http    *http.Client
}

// StatusError is a non-2xx response from Trello.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("trello: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("trello: unexpected status %d: %s", e.StatusCode, e.Body)
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}

	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, xerrors.WithKind(xerrors.Wrapf(err, "parse trello base url %q", opts.BaseURL), xerrors.KindConfig)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, xerrors.WithKind(xerrors.Newf("trello base url %q must be http or https", opts.BaseURL), xerrors.KindConfig)
	}

	return &Client{
		base:    base,
		key:     opts.AppKey,
		token:   opts.Token,
		timeout: opts.Timeout,
		agent:   opts.UserAgent,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		http: &http.Client{
			Transport: otelhttp.NewTransport(opts.Transport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "trello " + r.Method
				}),
			),
		},
	}, nil
}

// listURL builds /lists/{id}/cards with the field selector and credentials.
func (c *Client) listURL(listID string) string {
	u := *c.base
	u.Path = c.base.Path + "/lists/" + url.PathEscape(listID) + "/cards"
	q := url.Values{}
	q.Set("fields", CardFields)
	q.Set("attachments", "true")
	q.Set("members", "true")
	q.Set("customFieldItems", "true")
	if c.key != "" {
		q.Set("key", c.key)
	}
	if c.token != "" {
		q.Set("token", c.token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// GetListItems fetches every card on a list. All errors are tagged
// xerrors.KindUpstream so callers can treat them uniformly.
func (c *Client) GetListItems(ctx context.Context, listID string) ([]card.Card, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, upstream(xerrors.Wrap(err, "trello rate limit wait"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.listURL(listID), nil)
	if err != nil {
		return nil, upstream(xerrors.Wrap(err, "build trello request"))
	}
	req.Header.Set("Accept", "application/json")
	if c.agent != "" {
		req.Header.Set("User-Agent", c.agent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error includes the full url, which carries the token
		return nil, upstream(xerrors.Wrapf(redact(err), "get list %s", listID))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, upstream(xerrors.WithStack(&StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}))
	}

	var cards []card.Card
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	if err := dec.Decode(&cards); err != nil {
		return nil, upstream(xerrors.Wrapf(err, "decode list %s", listID))
	}
	if cards == nil {
		cards = []card.Card{}
	}
	return cards, nil
}

func upstream(err error) error { return xerrors.WithKind(err, xerrors.KindUpstream) }

func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s trello: %w", ue.Op, ue.Err)
	}
	return err
}

// Classify names the failure class of an upstream error for logs and metric labels.
func Classify(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return "status_" + strconv.Itoa(se.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var je *json.SyntaxError
	var te *json.UnmarshalTypeError
	if errors.As(err, &je) || errors.As(err, &te) {
		return "decode"
	}
	return "network"
}
