// Package raise implements the listing-bump protocol: a probe post
// per category which either bumps directly or answers with a modal of
// subcategory checkboxes that must be echoed back in a commit post.
package raise

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"fptools-backend/lib/kvstore"
	"fptools-backend/lib/pacing"
	"fptools-backend/lib/scrapers/funpay/core"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/funpay/raise")

const (
	lastRaiseKey = "last_raise_time"
	gameIndexKey = "node_game_index"
)

type Client struct {
	Core *core.Client
	// holds the node→game index and the last-run timestamp; may be
	// nil, raising then works but re-learns the index every run and
	// never gates on the interval
	Store *kvstore.Store
	Pace  pacing.Policy
}

func NewClient(coreClient *core.Client, store *kvstore.Store, pace pacing.Policy) Client {
	return Client{Core: coreClient, Store: store, Pace: pace}
}

// Outcome of one category's bump.
type Outcome struct {
	Raised    bool
	Confirmed bool // went through the subcategory modal
	Message   string
	Err       error
}

// Report is one full pass over the seller's categories.
type Report struct {
	Skipped  bool // interval gate, nothing was attempted
	Outcomes map[string]Outcome
}

func (r Report) RaisedCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Raised {
			n++
		}
	}
	return n
}

// probeResponse covers both answer shapes of the bump endpoint. The
// error flag arrives as a bool or a number depending on the code path
// server side.
type probeResponse struct {
	Msg   string          `json:"msg"`
	Error json.RawMessage `json:"error"`
	Modal string          `json:"modal"`
}

func (r probeResponse) failed() bool {
	s := string(r.Error)
	return s == "true" || s == "1"
}

var checkboxValueRe = regexp.MustCompile(`value="(.*?)"`)

func (c Client) probe(ctx context.Context, gameId, nodeId string) (probeResponse, error) {
	res, err := c.Core.PostForm(ctx, "/lots/raise", url.Values{
		"game_id": {gameId},
		"node_id": {nodeId},
	}, c.Core.BaseUrl.String()+"/lots/"+nodeId+"/")
	if err != nil {
		return probeResponse{}, err
	}

	var parsed probeResponse
	if err := json.Unmarshal(res.Body(), &parsed); err != nil {
		return probeResponse{}, fmt.Errorf("%w: bump response: %v", core.ErrExtraction, err)
	}
	return parsed, nil
}

func (c Client) commit(ctx context.Context, gameId, nodeId string, subNodeIds []string) (probeResponse, error) {
	form := url.Values{
		"game_id":    {gameId},
		"node_id":    {nodeId},
		"node_ids[]": subNodeIds,
	}
	res, err := c.Core.PostForm(ctx, "/lots/raise", form, c.Core.BaseUrl.String()+"/lots/"+nodeId+"/")
	if err != nil {
		return probeResponse{}, err
	}

	var parsed probeResponse
	if err := json.Unmarshal(res.Body(), &parsed); err != nil {
		return probeResponse{}, fmt.Errorf("%w: bump commit response: %v", core.ErrExtraction, err)
	}
	return parsed, nil
}

// RaiseCategory bumps one category. When the server answers with the
// subcategory modal, every subcategory it offers is checked and the
// bump is committed in a second post.
func (c Client) RaiseCategory(ctx context.Context, category Category) Outcome {
	ctx, span := tracer.Start(ctx, "client:RaiseCategory")
	defer span.End()

	gameId, err := c.gameId(ctx, category)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve game id")
		return Outcome{Err: err}
	}

	parsed, err := c.probe(ctx, gameId, category.NodeId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "probe failed")
		return Outcome{Err: err}
	}

	if parsed.Modal == "" {
		return Outcome{Raised: !parsed.failed(), Message: parsed.Msg}
	}

	subNodeIds := []string{}
	for _, m := range checkboxValueRe.FindAllStringSubmatch(parsed.Modal, -1) {
		if m[1] != "" {
			subNodeIds = append(subNodeIds, m[1])
		}
	}
	if len(subNodeIds) == 0 {
		return Outcome{Err: fmt.Errorf("%w: bump modal without subcategories", core.ErrExtraction)}
	}

	if err := pacing.Sleep(ctx, c.Pace.BeforeCommitRetry); err != nil {
		return Outcome{Err: err}
	}
	parsed, err = c.commit(ctx, gameId, category.NodeId, subNodeIds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return Outcome{Err: err}
	}
	return Outcome{Raised: !parsed.failed(), Confirmed: true, Message: parsed.Msg}
}

// RaiseAll bumps every category on the seller's profile. A positive
// interval gates the whole pass on the previously persisted run time;
// the run time is persisted even when individual categories fail so a
// partly-failed pass does not retry in a tight loop.
func (c Client) RaiseAll(ctx context.Context, interval time.Duration) (Report, error) {
	ctx, span := tracer.Start(ctx, "client:RaiseAll")
	defer span.End()

	if interval > 0 && c.Store != nil {
		last := time.UnixMilli(c.Store.GetInt64(lastRaiseKey, 0))
		if time.Since(last) < interval {
			return Report{Skipped: true}, nil
		}
	}

	identity, err := c.Core.FetchIdentity(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to derive identity")
		return Report{}, err
	}

	res, err := c.Core.Get(ctx, "/users/"+identity.UserId+"/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch profile page")
		return Report{}, err
	}
	categories := ExtractCategories(res.Body())

	report := Report{Outcomes: map[string]Outcome{}}
	for i, category := range categories {
		if i > 0 {
			if err := pacing.Sleep(ctx, c.Pace.BetweenRaises); err != nil {
				return report, err
			}
		}

		outcome := c.RaiseCategory(ctx, category)
		report.Outcomes[category.NodeId] = outcome
		if outcome.Err != nil {
			slog.Warn("bump failed",
				"node", category.NodeId, "category", category.Name, "err", outcome.Err)
			continue
		}
		slog.Debug("bump finished",
			"node", category.NodeId, "raised", outcome.Raised, "msg", outcome.Message)
	}

	if c.Store != nil {
		if err := c.Store.SetInt64(lastRaiseKey, time.Now().UnixMilli()); err != nil {
			slog.Warn("failed to persist bump run time", "err", err)
		}
	}
	return report, nil
}

// gameId resolves a category's owning game. The profile markup
// carries it directly on newer pages; otherwise the storefront index
// is consulted and rebuilt once on a miss.
func (c Client) gameId(ctx context.Context, category Category) (string, error) {
	if category.GameId != "" {
		return category.GameId, nil
	}

	index := map[string]string{}
	if c.Store != nil {
		_ = c.Store.GetJSON(gameIndexKey, &index)
	}
	if gameId := index[category.NodeId]; gameId != "" {
		return gameId, nil
	}

	res, err := c.Core.Get(ctx, "/")
	if err != nil {
		return "", err
	}
	index, err = ExtractGameIndex(res.Body())
	if err != nil {
		return "", err
	}
	if c.Store != nil {
		_ = c.Store.SetJSON(gameIndexKey, index)
	}

	gameId := index[category.NodeId]
	if gameId == "" {
		return "", fmt.Errorf("%w: no game owns category %s", core.ErrExtraction, category.NodeId)
	}
	return gameId, nil
}
