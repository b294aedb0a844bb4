// Package orders reads order pages and drives the review-reply and
// refund endpoints.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"fptools-backend/lib/scrapers/funpay/core"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/funpay/orders")

type Client struct {
	Core *core.Client
}

func NewClient(coreClient *core.Client) Client {
	return Client{Core: coreClient}
}

// Fetch loads one order page.
func (c Client) Fetch(ctx context.Context, orderId string) (Order, error) {
	ctx, span := tracer.Start(ctx, "client:Fetch")
	defer span.End()

	res, err := c.Core.Get(ctx, "/orders/"+url.PathEscape(orderId)+"/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch order page")
		return Order{}, err
	}
	order, err := ExtractOrder(orderId, res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to extract order")
		return Order{}, err
	}
	return order, nil
}

// ReplyTemplates maps star count to a reply template. Key 0 is the
// fallback used for ratings without their own template.
type ReplyTemplates map[int]string

func (t ReplyTemplates) For(rating int) string {
	if tmpl := t[rating]; tmpl != "" {
		return tmpl
	}
	return t[0]
}

// RenderReply fills a template's placeholders from the order.
func RenderReply(template string, order Order) string {
	r := strings.NewReplacer(
		"$username", order.Buyer,
		"$order_id", order.Id,
		"$lot_name", order.LotName,
	)
	return r.Replace(template)
}

// HandleReview answers the buyer's review on one order. Returns
// whether a reply went out: orders without a review, or ratings with
// no configured template, are quietly left alone.
func (c Client) HandleReview(ctx context.Context, orderId string, templates ReplyTemplates) (bool, error) {
	ctx, span := tracer.Start(ctx, "client:HandleReview")
	defer span.End()

	order, err := c.Fetch(ctx, orderId)
	if err != nil {
		return false, err
	}
	if order.Rating == 0 {
		return false, nil
	}
	template := templates.For(order.Rating)
	if template == "" {
		return false, nil
	}

	err = c.SendReply(ctx, orderId, RenderReply(template, order), order.Rating)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send reply")
		return false, err
	}
	return true, nil
}

// SendReply posts a seller answer onto the order's review.
func (c Client) SendReply(ctx context.Context, orderId, text string, rating int) error {
	ctx, span := tracer.Start(ctx, "client:SendReply")
	defer span.End()

	identity, err := c.Core.FetchIdentity(ctx)
	if err != nil {
		return err
	}

	res, err := c.Core.PostForm(ctx, "/orders/review", url.Values{
		"csrf_token": {identity.Csrf},
		"authorId":   {identity.UserId},
		"orderId":    {orderId},
		"text":       {text},
		"rating":     {strconv.Itoa(rating)},
	}, c.Core.BaseUrl.String()+"/orders/"+orderId+"/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post review reply")
		return err
	}
	return classifyReviewResponse(res)
}

// DeleteReply removes the seller answer from an order's review.
func (c Client) DeleteReply(ctx context.Context, orderId string) error {
	ctx, span := tracer.Start(ctx, "client:DeleteReply")
	defer span.End()

	identity, err := c.Core.FetchIdentity(ctx)
	if err != nil {
		return err
	}

	res, err := c.Core.PostForm(ctx, "/orders/reviewDelete", url.Values{
		"csrf_token": {identity.Csrf},
		"authorId":   {identity.UserId},
		"orderId":    {orderId},
	}, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post review delete")
		return err
	}
	return classifyReviewResponse(res)
}

// Refund refunds an order to its buyer.
func (c Client) Refund(ctx context.Context, orderId string) error {
	ctx, span := tracer.Start(ctx, "client:Refund")
	defer span.End()

	identity, err := c.Core.FetchIdentity(ctx)
	if err != nil {
		return err
	}

	res, err := c.Core.PostForm(ctx, "/orders/refund", url.Values{
		"csrf_token": {identity.Csrf},
		"id":         {orderId},
	}, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post refund")
		return err
	}
	return classifyReviewResponse(res)
}

// the order endpoints flag failure three different ways: the status
// code, a bool error field or a numeric one, with the human message
// under either "msg" or "message"
type reviewResponse struct {
	Error   json.RawMessage `json:"error"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
}

func classifyReviewResponse(res *resty.Response) error {
	body := res.String()
	if !res.IsSuccess() {
		return &core.ServerError{Message: fmt.Sprintf("http %d: %s", res.StatusCode(), truncate(body, 200))}
	}

	var parsed reviewResponse
	if err := json.Unmarshal(res.Body(), &parsed); err != nil {
		return fmt.Errorf("%w: order response: %v", core.ErrExtraction, err)
	}
	if flag := string(parsed.Error); flag == "true" || flag == "1" {
		msg := parsed.Msg
		if msg == "" {
			msg = parsed.Message
		}
		if msg == "" {
			msg = truncate(body, 200)
		}
		return &core.ServerError{Message: msg}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
