// Package chat speaks the marketplace's runner channel: a JSON
// envelope over form POSTs used for chat bookmarks, chat history and
// sending messages.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"fptools-backend/lib/scrapers/funpay/core"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/funpay/chat")

type Client struct {
	Core *core.Client
}

func NewClient(coreClient *core.Client) Client {
	return Client{Core: coreClient}
}

type runnerObject struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type runnerResponse struct {
	Error   bool           `json:"error"`
	Msg     string         `json:"msg"`
	Objects []runnerObject `json:"objects"`
}

func (c Client) runner(ctx context.Context, identity core.Identity, objects string, request string) (runnerResponse, error) {
	res, err := c.Core.PostForm(ctx, "/runner/", url.Values{
		"objects":    {objects},
		"request":    {request},
		"csrf_token": {identity.Csrf},
	}, "")
	if err != nil {
		return runnerResponse{}, err
	}

	var parsed runnerResponse
	err = json.Unmarshal(res.Body(), &parsed)
	if err != nil {
		return runnerResponse{}, fmt.Errorf("%w: runner response is not json", core.ErrExtraction)
	}
	if parsed.Error {
		msg := parsed.Msg
		if msg == "" {
			msg = "runner returned an error"
		}
		return runnerResponse{}, &core.ServerError{Message: msg}
	}
	return parsed, nil
}

// List fetches the chat bookmarks: one summary per conversation in
// the server-rendered order, most recent interaction first.
func (c Client) List(ctx context.Context) ([]Summary, error) {
	ctx, span := tracer.Start(ctx, "client:List")
	defer span.End()

	identity, err := c.Core.FetchIdentity(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to derive identity")
		return nil, err
	}

	objects := fmt.Sprintf(
		`[{"type":"chat_bookmarks","id":"%s","tag":"00000000","data":false}]`,
		identity.UserId,
	)
	parsed, err := c.runner(ctx, identity, objects, "false")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "runner request failed")
		return nil, err
	}

	for _, obj := range parsed.Objects {
		if obj.Type != "chat_bookmarks" {
			continue
		}
		var data struct {
			Html string `json:"html"`
		}
		err = json.Unmarshal(obj.Data, &data)
		if err != nil {
			return nil, fmt.Errorf("%w: chat_bookmarks data", core.ErrExtraction)
		}
		return ExtractSummaries([]byte(data.Html), identity.UserId)
	}

	return nil, fmt.Errorf("%w: no chat_bookmarks object in runner response", core.ErrExtraction)
}

// resolveNode maps a numeric chat id onto its canonical
// "users-<a>-<b>" node name. Best-effort, the numeric id still works
// for most chats.
func (c Client) resolveNode(ctx context.Context, chatId string) string {
	res, err := c.Core.Get(ctx, "/chat/history?node="+url.QueryEscape(chatId)+"&last_message=0")
	if err != nil {
		return chatId
	}
	var parsed struct {
		Chat struct {
			Node struct {
				Name string `json:"name"`
			} `json:"node"`
		} `json:"chat"`
	}
	err = json.Unmarshal(res.Body(), &parsed)
	if err != nil {
		return chatId
	}
	if strings.HasPrefix(parsed.Chat.Node.Name, "users-") {
		return parsed.Chat.Node.Name
	}
	return chatId
}

// History fetches the message thread of one chat.
func (c Client) History(ctx context.Context, chatId string) ([]Message, error) {
	ctx, span := tracer.Start(ctx, "client:History")
	defer span.End()

	identity, err := c.Core.FetchIdentity(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to derive identity")
		return nil, err
	}

	node := chatId
	if !strings.HasPrefix(node, "users-") {
		node = c.resolveNode(ctx, chatId)
	}

	payload := map[string]any{
		"type": "chat_node",
		"id":   node,
		"tag":  "00000000",
		"data": map[string]any{
			"node":         node,
			"last_message": -1,
			"content":      "",
		},
	}
	objects, err := json.Marshal([]any{payload})
	if err != nil {
		return nil, err
	}

	parsed, err := c.runner(ctx, identity, string(objects), "false")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "runner request failed")
		return nil, err
	}

	for _, obj := range parsed.Objects {
		if obj.Type != "chat_node" {
			continue
		}
		var data struct {
			Messages []rawMessage `json:"messages"`
		}
		err = json.Unmarshal(obj.Data, &data)
		if err != nil {
			return nil, fmt.Errorf("%w: chat_node data", core.ErrExtraction)
		}
		return extractHistory(data.Messages, identity.UserId), nil
	}

	return nil, nil
}

// Send posts one chat message. Success is the absence of the error
// flag in the runner's reply.
func (c Client) Send(ctx context.Context, chatId, content string) error {
	ctx, span := tracer.Start(ctx, "client:Send")
	defer span.End()

	identity, err := c.Core.FetchIdentity(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to derive identity")
		return err
	}

	request := map[string]any{
		"action": "chat_message",
		"data": map[string]any{
			"node":         chatId,
			"last_message": -1,
			"content":      content,
		},
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		return err
	}

	_, err = c.runner(ctx, identity, "[]", string(encoded))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		return err
	}
	return nil
}
