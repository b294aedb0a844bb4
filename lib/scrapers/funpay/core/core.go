package core

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/codeGROOVE-dev/retry"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

const DefaultBaseUrl = "https://funpay.com"

const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// markers of the anti-bot interstitial served instead of real content
var challengeMarkers = [][]byte{
	[]byte("Just a moment"),
	[]byte("cloudflare"),
	[]byte("challenge-platform"),
}

func IsChallenge(body []byte) bool {
	for _, marker := range challengeMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// Client is the authenticated HTTP surface against the marketplace.
// It attaches the session cookie to every request, observes rotated
// cookies on every response and refuses to hand challenge pages to
// extractors. It never retries a failed operation; retry policy lives
// with the caller.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client
	Session *Session
}

type ClientOptions struct {
	// defaults to DefaultBaseUrl
	BaseUrl   string
	GoldenKey string
	SessionId string
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	session := NewSession(opts.GoldenKey, opts.SessionId)

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", UserAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 60)

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		// a request may pin its own cookie snapshot (form submissions
		// must reuse the session the form was served under)
		if req.Header.Get("Cookie") != "" {
			return nil
		}
		if cookie := session.CookieHeader(); cookie != "" {
			req.SetHeader("cookie", cookie)
		}
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		session.Observe(res.RawResponse)
		return nil
	})

	restyutilInstrument(client)

	c := &Client{
		BaseUrl: baseUrl,
		Http:    client,
		Session: session,
	}
	return c, nil
}

// Get fetches an endpoint and refuses challenge bodies.
func (c *Client) Get(ctx context.Context, endpoint string) (*resty.Response, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if IsChallenge(res.Body()) {
		return nil, ErrBlocked
	}
	return res, nil
}

// PostForm submits a classic form post. The server routes XHR form
// posts off the x-requested-with header.
func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values, referer string) (*resty.Response, error) {
	req := c.Http.R().
		SetContext(ctx).
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetFormDataFromValues(form)
	if referer != "" {
		req.SetHeader("referer", referer)
	}

	res, err := req.Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if IsChallenge(res.Body()) {
		return nil, ErrBlocked
	}
	return res, nil
}

// Identity is the (csrf token, user id) pair embedded in the main
// page's app config. It is re-derived per request burst instead of
// cached across polling cycles, trading latency for resilience to
// token rotation.
type Identity struct {
	Csrf   string
	UserId string
}

// FetchIdentity loads the main page and derives the csrf/user pair.
// The main page occasionally renders without the app-config attribute
// right after a session rotation, so a few attempts are made.
func (c *Client) FetchIdentity(ctx context.Context) (Identity, error) {
	ctx, span := tracer.Start(ctx, "client:FetchIdentity")
	defer span.End()

	if !c.Session.HasAuth() {
		span.SetStatus(codes.Error, ErrAuthRequired.Error())
		return Identity{}, ErrAuthRequired
	}

	var identity Identity
	err := retry.Do(
		func() error {
			res, err := c.Get(ctx, "/")
			if err != nil {
				return retry.Unrecoverable(err)
			}
			identity, err = ExtractIdentity(res.Body(), "data-app-data")
			return err
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to derive identity")
		return Identity{}, err
	}
	return identity, nil
}
