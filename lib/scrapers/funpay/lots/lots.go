// Package lots manages the seller's listings: the profile-page
// listing view, the per-category edit form and the save/toggle/copy/
// delete protocols built as read-modify-write over that form.
package lots

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"fptools-backend/lib/scrapers/funpay/core"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/funpay/lots")

type Client struct {
	Core *core.Client
	// may be nil, the listing view then shows server state only
	Cache *InactiveCache
}

func NewClient(coreClient *core.Client, cache *InactiveCache) Client {
	return Client{Core: coreClient, Cache: cache}
}

// List fetches the seller's listings off their profile page, merged
// with locally-remembered deactivated listings the server no longer
// renders.
func (c Client) List(ctx context.Context) ([]Lot, error) {
	ctx, span := tracer.Start(ctx, "client:List")
	defer span.End()

	identity, err := c.Core.FetchIdentity(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to derive identity")
		return nil, err
	}

	res, err := c.Core.Get(ctx, "/users/"+identity.UserId+"/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch profile page")
		return nil, err
	}

	merged, err := ExtractLots(res.Body())
	if err != nil {
		return nil, err
	}

	if c.Cache != nil {
		cached, err := c.Cache.All()
		if err == nil {
			present := map[string]bool{}
			for _, lot := range merged {
				present[lot.Id] = true
			}
			for _, lot := range cached {
				if !present[lot.Id] {
					merged = append(merged, lot)
				}
			}
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		a, _ := strconv.ParseInt(merged[i].Id, 10, 64)
		b, _ := strconv.ParseInt(merged[j].Id, 10, 64)
		return a > b
	})
	return merged, nil
}

func (c Client) fieldSetAt(ctx context.Context, endpoint string) (FieldSet, error) {
	res, err := c.Core.Get(ctx, endpoint)
	if err != nil {
		return FieldSet{}, err
	}
	fs, err := ExtractFieldSet(res.Body())
	if err != nil {
		return FieldSet{}, err
	}
	// the edit page rotates the session; the save must go out under
	// the rotated id, which Observe has already recorded
	fs.SessionId = c.Core.Session.SessionId()
	return fs, nil
}

// FieldSet loads the edit form of an existing listing.
func (c Client) FieldSet(ctx context.Context, lotId string) (FieldSet, error) {
	ctx, span := tracer.Start(ctx, "client:FieldSet")
	defer span.End()

	fs, err := c.fieldSetAt(ctx, "/lots/offerEdit?offer="+url.QueryEscape(lotId))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load edit form")
		return FieldSet{}, err
	}
	return fs, nil
}

var saveMsgRe = regexp.MustCompile(`"msg"\s*:\s*"([^"]+)"`)

// Save posts the full echoed field map. The server expects `location`,
// `secrets` and `fields[images]` even when empty, and encodes "active"
// as presence of the field, not as a value.
func (c Client) Save(ctx context.Context, lotId string, values map[string]string, csrf, sessionId string) error {
	ctx, span := tracer.Start(ctx, "client:Save")
	defer span.End()

	form := url.Values{}
	form.Set("csrf_token", csrf)
	for name, value := range values {
		switch name {
		case "csrf_token":
		case "location":
			if value == "" {
				value = "trade"
			}
			form.Set(name, value)
		case "active":
			if value == "on" {
				form.Set(name, value)
			}
		default:
			form.Set(name, value)
		}
	}
	if _, ok := values["location"]; !ok {
		form.Set("location", "trade")
	}
	if _, ok := values["secrets"]; !ok {
		form.Set("secrets", "")
	}
	if _, ok := values["fields[images]"]; !ok {
		form.Set("fields[images]", "")
	}

	referer := c.Core.BaseUrl.String() + "/lots/offerEdit?offer=" + lotId
	if lotId == "0" {
		referer = c.Core.BaseUrl.String() + "/lots/offerEdit?node=" + values["node_id"]
	}

	req := c.Core.Http.R().
		SetContext(ctx).
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetHeader("referer", referer).
		SetFormDataFromValues(form)
	if sessionId != "" {
		req.SetHeader("cookie", "golden_key="+c.Core.Session.GoldenKey()+"; PHPSESSID="+sessionId)
	}

	res, err := req.Post("/lots/offerSave")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post save")
		return fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
	return classifySaveResponse(res)
}

func classifySaveResponse(res *resty.Response) error {
	body := res.String()
	if core.IsChallenge(res.Body()) {
		return core.ErrBlocked
	}
	if !res.IsSuccess() {
		return &core.ServerError{Message: fmt.Sprintf("http %d: %s", res.StatusCode(), truncate(body, 200))}
	}
	if strings.Contains(body, `"done":true`) || strings.Contains(body, `"done": true`) {
		return nil
	}
	if strings.Contains(body, "error") {
		if m := saveMsgRe.FindStringSubmatch(body); m != nil {
			return &core.ServerError{Message: m[1]}
		}
		return &core.ServerError{Message: truncate(body, 200)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Toggle flips a listing's active state by re-fetching the whole form,
// flipping the presence of the "active" field and re-saving. There is
// no dedicated status endpoint. A nil force toggles, otherwise the
// listing is driven to the given state.
func (c Client) Toggle(ctx context.Context, lot Lot, force *bool) error {
	ctx, span := tracer.Start(ctx, "client:Toggle")
	defer span.End()

	fs, err := c.FieldSet(ctx, lot.Id)
	if err != nil {
		return err
	}

	values := fs.Values()
	target := values["active"] != "on"
	if force != nil {
		target = *force
	}
	if target {
		values["active"] = "on"
	} else {
		delete(values, "active")
	}

	err = c.Save(ctx, lot.Id, values, fs.Csrf, fs.SessionId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save toggled form")
		return err
	}

	if c.Cache != nil {
		if target {
			return c.Cache.Remove(lot.Id)
		}
		return c.Cache.Put(lot)
	}
	return nil
}

// BulkToggle drives many listings to one state in parallel. Every
// toggle targets a different listing, so the server does not require
// ordering between them.
func (c Client) BulkToggle(ctx context.Context, batch []Lot, enable bool) map[string]error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	out := make(map[string]error, len(batch))

	for _, lot := range batch {
		wg.Add(1)
		go func(lot Lot) {
			defer wg.Done()
			target := enable
			err := c.Toggle(ctx, lot, &target)

			mu.Lock()
			out[lot.Id] = err
			mu.Unlock()
		}(lot)
	}
	wg.Wait()
	return out
}

// content fields carried over when copying into another category
var copiedFields = []string{
	"fields[summary][ru]", "fields[summary][en]",
	"fields[desc][ru]", "fields[desc][en]",
	"price", "amount",
}

// Copy clones a listing, optionally into another category. A cross-
// category copy re-fetches the empty target form (fresh csrf token,
// fresh session fragment) and splices only the content fields over.
func (c Client) Copy(ctx context.Context, lotId, targetNodeId string) error {
	ctx, span := tracer.Start(ctx, "client:Copy")
	defer span.End()

	original, err := c.FieldSet(ctx, lotId)
	if err != nil {
		return err
	}
	values := original.Values()
	csrf := original.Csrf
	sessionId := original.SessionId

	nodeId := targetNodeId
	if nodeId == "" {
		nodeId = values["node_id"]
	}
	if nodeId == "" {
		return &core.ValidationError{Field: "node_id"}
	}

	if targetNodeId != "" && targetNodeId != values["node_id"] {
		target, err := c.fieldSetAt(ctx, "/lots/offerEdit?node="+url.QueryEscape(targetNodeId))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to load target category form")
			return err
		}

		spliced := target.Values()
		for _, name := range copiedFields {
			if values[name] != "" {
				spliced[name] = values[name]
			}
		}
		values = spliced
		csrf = target.Csrf
		sessionId = target.SessionId
	}

	values["offer_id"] = "0"
	values["node_id"] = nodeId
	values["active"] = "on"

	err = c.Save(ctx, "0", values, csrf, sessionId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save copy")
		return err
	}
	return nil
}

// Delete marks a listing deleted through the same save endpoint.
func (c Client) Delete(ctx context.Context, lotId string) error {
	ctx, span := tracer.Start(ctx, "client:Delete")
	defer span.End()

	identity, err := c.Core.FetchIdentity(ctx)
	if err != nil {
		return err
	}

	res, err := c.Core.PostForm(ctx, "/lots/offerSave", url.Values{
		"csrf_token": {identity.Csrf},
		"offer_id":   {lotId},
		"deleted":    {"1"},
	}, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post delete")
		return err
	}
	err = classifySaveResponse(res)
	if err != nil {
		return err
	}

	if c.Cache != nil {
		return c.Cache.Remove(lotId)
	}
	return nil
}
