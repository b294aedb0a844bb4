// Package support drives the helpdesk portal. The portal lives on its
// own subdomain with its own cookie jar, bootstrapped from the main
// site through an SSO redirect chain.
package support

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"fptools-backend/lib/scrapers/funpay/core"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/funpay/support")

const (
	DefaultBaseUrl = "https://support.funpay.com"

	ssoPath             = "/support/sso?return_to=%2Ftickets"
	defaultMaxRedirects = 10
)

type ClientOptions struct {
	// defaults to DefaultBaseUrl
	BaseUrl string
	// defaults to core.DefaultBaseUrl; the SSO hop starts here
	MainBaseUrl string
	// main-site session the portal session is derived from
	Session *core.Session
	// bound on the SSO redirect chain, defaults to 10
	MaxRedirects int
}

type Client struct {
	BaseUrl *url.URL
	MainUrl *url.URL
	Http    *resty.Client
	Session *core.Session

	maxRedirects int

	mu      sync.Mutex
	cookies map[string]string
	csrf    string
	userId  string
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.MainBaseUrl == "" {
		opts.MainBaseUrl = core.DefaultBaseUrl
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = defaultMaxRedirects
	}
	if opts.Session == nil {
		return nil, core.ErrAuthRequired
	}

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	mainUrl, err := url.Parse(opts.MainBaseUrl)
	if err != nil {
		return nil, fmt.Errorf("parse main base url: %w", err)
	}

	client := resty.New()
	client.SetTransport(cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport))
	client.SetHeader("user-agent", core.UserAgent)
	// the SSO chain crosses hosts, cookies are routed per request
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}))

	c := &Client{
		BaseUrl:      baseUrl,
		MainUrl:      mainUrl,
		Http:         client,
		Session:      opts.Session,
		maxRedirects: opts.MaxRedirects,
		cookies:      map[string]string{},
	}
	restyutilInstrument(client)
	return c, nil
}

func (c *Client) cookieHeaderFor(u *url.URL) string {
	if u.Host == c.MainUrl.Host {
		return c.Session.CookieHeader()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.cookies))
	for name := range c.cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+c.cookies[name])
	}
	return strings.Join(pairs, "; ")
}

func (c *Client) observe(u *url.URL, setCookies []string) {
	if u.Host == c.MainUrl.Host {
		c.Session.ObserveSetCookie(setCookies)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, raw := range setCookies {
		pair := strings.SplitN(strings.Split(raw, ";")[0], "=", 2)
		if len(pair) != 2 || pair[0] == "" {
			continue
		}
		c.cookies[pair[0]] = pair[1]
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// get fetches an absolute url, walking redirects by hand so cookies
// can be routed to the right host along the SSO chain.
func (c *Client) get(ctx context.Context, u *url.URL) (*resty.Response, error) {
	for i := 0; i <= c.maxRedirects; i++ {
		res, err := c.Http.R().
			SetContext(ctx).
			SetHeader("cookie", c.cookieHeaderFor(u)).
			Get(u.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrNetwork, err)
		}
		c.observe(u, res.Header().Values("Set-Cookie"))

		if res.StatusCode() == http.StatusTooManyRequests {
			return nil, &core.ServerError{Message: "portal rate limited the session"}
		}
		if isRedirect(res.StatusCode()) {
			location := res.Header().Get("Location")
			if location == "" {
				return nil, fmt.Errorf("%w: redirect without location", core.ErrExtraction)
			}
			next, err := url.Parse(location)
			if err != nil {
				return nil, fmt.Errorf("%w: redirect location: %v", core.ErrExtraction, err)
			}
			u = u.ResolveReference(next)
			continue
		}
		if core.IsChallenge(res.Body()) {
			return nil, core.ErrBlocked
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: sso chain exceeded %d redirects", core.ErrExtraction, c.maxRedirects)
}

func (c *Client) getPath(ctx context.Context, path string) (*resty.Response, error) {
	u, err := url.Parse(c.BaseUrl.String() + path)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, u)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*resty.Response, error) {
	u, err := url.Parse(c.BaseUrl.String() + path)
	if err != nil {
		return nil, err
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("cookie", c.cookieHeaderFor(u)).
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetFormDataFromValues(form).
		Post(u.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
	c.observe(u, res.Header().Values("Set-Cookie"))

	if res.StatusCode() == http.StatusTooManyRequests {
		return nil, &core.ServerError{Message: "portal rate limited the session"}
	}
	if core.IsChallenge(res.Body()) {
		return nil, core.ErrBlocked
	}
	return res, nil
}

// EnsureSession walks the SSO chain once and records the portal's
// csrf token and user id. Later calls are no-ops until Reset.
func (c *Client) EnsureSession(ctx context.Context) error {
	c.mu.Lock()
	ready := c.csrf != ""
	c.mu.Unlock()
	if ready {
		return nil
	}

	ctx, span := tracer.Start(ctx, "client:EnsureSession")
	defer span.End()

	if !c.Session.HasAuth() {
		return core.ErrAuthRequired
	}

	start, err := url.Parse(c.MainUrl.String() + ssoPath)
	if err != nil {
		return err
	}
	res, err := c.get(ctx, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sso chain failed")
		return err
	}

	identity, err := core.ExtractIdentity(res.Body(), "data-app-config")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "portal identity missing after sso")
		return err
	}

	c.mu.Lock()
	c.csrf = identity.Csrf
	c.userId = identity.UserId
	c.mu.Unlock()
	return nil
}

// Reset drops the portal session so the next call re-runs SSO.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.csrf = ""
	c.userId = ""
	c.cookies = map[string]string{}
}

func (c *Client) identity() (csrf, userId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrf, c.userId
}

// Categories lists the ticket categories offered by the portal.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	ctx, span := tracer.Start(ctx, "client:Categories")
	defer span.End()

	if err := c.EnsureSession(ctx); err != nil {
		return nil, err
	}
	res, err := c.getPath(ctx, "/tickets")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch ticket index")
		return nil, err
	}
	return ExtractCategories(res.Body())
}

// CategoryFields loads the field schema of one ticket category.
func (c *Client) CategoryFields(ctx context.Context, categoryId string) ([]Field, error) {
	ctx, span := tracer.Start(ctx, "client:CategoryFields")
	defer span.End()

	if err := c.EnsureSession(ctx); err != nil {
		return nil, err
	}
	res, err := c.getPath(ctx, "/tickets/create/"+url.PathEscape(categoryId))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch ticket form")
		return nil, err
	}
	return ExtractFields(res.Body())
}

// Tickets lists the user's tickets.
func (c *Client) Tickets(ctx context.Context) ([]TicketSummary, error) {
	ctx, span := tracer.Start(ctx, "client:Tickets")
	defer span.End()

	if err := c.EnsureSession(ctx); err != nil {
		return nil, err
	}
	res, err := c.getPath(ctx, "/tickets")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch ticket index")
		return nil, err
	}
	return ExtractTickets(res.Body())
}

// Ticket loads one ticket thread.
func (c *Client) Ticket(ctx context.Context, ticketId string) (Ticket, error) {
	ctx, span := tracer.Start(ctx, "client:Ticket")
	defer span.End()

	if err := c.EnsureSession(ctx); err != nil {
		return Ticket{}, err
	}
	res, err := c.getPath(ctx, "/tickets/"+url.PathEscape(ticketId))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch ticket")
		return Ticket{}, err
	}
	_, userId := c.identity()
	return ExtractTicket(ticketId, userId, res.Body())
}

var (
	formTokenRe = regexp.MustCompile(`name="(?:ticket|add_comment|close_ticket)\[_token\]"[^>]*value="([^"]+)"`)
)

func pageToken(body []byte) string {
	if m := formTokenRe.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}

type actionResponse struct {
	Action struct {
		Url string `json:"url"`
	} `json:"action"`
	Message string `json:"message"`
}

// Create opens a new ticket and returns its id. Field values are the
// category field names mapped to their chosen values; the message
// becomes the opening comment.
func (c *Client) Create(ctx context.Context, categoryId string, fields map[string]string, message string) (string, error) {
	ctx, span := tracer.Start(ctx, "client:Create")
	defer span.End()

	if err := c.EnsureSession(ctx); err != nil {
		return "", err
	}

	page, err := c.getPath(ctx, "/tickets/create/"+url.PathEscape(categoryId))
	if err != nil {
		return "", err
	}
	token := pageToken(page.Body())
	if token == "" {
		token, _ = c.identity()
	}

	form := url.Values{
		"ticket[_token]":             {token},
		"ticket[comment][body_html]": {"<p>" + message + "</p>"},
		"attachments":                {""},
	}
	for name, value := range fields {
		form.Set(name, value)
	}

	res, err := c.postForm(ctx, "/tickets/create/"+url.PathEscape(categoryId), form)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post ticket")
		return "", err
	}

	var parsed actionResponse
	if err := json.Unmarshal(res.Body(), &parsed); err != nil || parsed.Action.Url == "" {
		if parsed.Message != "" {
			return "", &core.ServerError{Message: parsed.Message}
		}
		return "", fmt.Errorf("%w: ticket id missing from create response", core.ErrExtraction)
	}
	m := ticketHrefRe.FindStringSubmatch(parsed.Action.Url)
	if m == nil {
		return "", fmt.Errorf("%w: ticket id missing from create response", core.ErrExtraction)
	}
	return m[1], nil
}

// AddComment appends a comment onto an open ticket.
func (c *Client) AddComment(ctx context.Context, ticketId, message string) error {
	ctx, span := tracer.Start(ctx, "client:AddComment")
	defer span.End()

	if err := c.EnsureSession(ctx); err != nil {
		return err
	}

	page, err := c.getPath(ctx, "/tickets/"+url.PathEscape(ticketId))
	if err != nil {
		return err
	}
	token := pageToken(page.Body())
	if token == "" {
		token, _ = c.identity()
	}

	res, err := c.postForm(ctx, "/tickets/"+url.PathEscape(ticketId)+"/comments/create", url.Values{
		"add_comment[_token]":             {token},
		"add_comment[comment][body_html]": {"<p>" + message + "</p>"},
		"attachments":                     {""},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post comment")
		return err
	}
	if !res.IsSuccess() {
		return &core.ServerError{Message: fmt.Sprintf("http %d", res.StatusCode())}
	}
	return nil
}

// Close resolves a ticket.
func (c *Client) Close(ctx context.Context, ticketId string) error {
	ctx, span := tracer.Start(ctx, "client:Close")
	defer span.End()

	if err := c.EnsureSession(ctx); err != nil {
		return err
	}

	page, err := c.getPath(ctx, "/tickets/"+url.PathEscape(ticketId))
	if err != nil {
		return err
	}
	token := ""
	if identity, err := core.ExtractIdentity(page.Body(), "data-app-config"); err == nil {
		token = identity.Csrf
	}
	if token == "" {
		token = pageToken(page.Body())
	}
	if token == "" {
		return fmt.Errorf("%w: close token missing from ticket page", core.ErrExtraction)
	}

	res, err := c.postForm(ctx, "/tickets/"+url.PathEscape(ticketId)+"/close", url.Values{
		"close_ticket[_token]": {token},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post close")
		return err
	}
	if !res.IsSuccess() {
		return &core.ServerError{Message: fmt.Sprintf("http %d", res.StatusCode())}
	}
	return nil
}
