package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fptools-backend/lib/scrapers/funpay/core"
	"fptools-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const identityPage = `<html><body data-app-data='{"csrf-token":"tok","userId":"100"}'></body></html>`

const bookmarksFragment = `
<a href="https://funpay.com/chat/?node=users-100-200" class="contact-item unread" data-id="users-100-200">
	<div class="media-user-name">alice</div>
	<div class="contact-item-message">privet</div>
	<div class="contact-item-time">12:01</div>
</a>
<a href="https://funpay.com/chat/?node=users-100-300" class="contact-item" data-id="users-100-300">
	<div class="media-user-name">bob</div>
	<div class="contact-item-message">spasibo</div>
	<div class="contact-item-time">11:40</div>
</a>`

func setup(t testing.TB, handler http.Handler) Client {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/funpay/chat")
	t.Cleanup(cleanup)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	coreClient, err := core.NewClient(context.Background(), core.ClientOptions{
		BaseUrl:   server.URL,
		GoldenKey: "gk",
	})
	require.NoError(t, err)
	return NewClient(coreClient)
}

func TestExtractSummaries(t *testing.T) {
	chats, err := ExtractSummaries([]byte(bookmarksFragment), "100")
	require.NoError(t, err)
	require.Len(t, chats, 2)

	require.Equal(t, Summary{
		Id:          "users-100-200",
		Username:    "alice",
		LastMessage: "privet",
		Unread:      true,
		UserId:      "200",
		Date:        "12:01",
	}, chats[0])
	require.False(t, chats[1].Unread)
	require.Equal(t, "300", chats[1].UserId)
}

func TestExtractHistory(t *testing.T) {
	messages := extractHistory([]rawMessage{
		{
			Id:     float64(1),
			Author: float64(100),
			Html: `<div class="chat-msg-item">
				<div class="media-user-name"><a href="/users/100/">me</a></div>
				<div class="chat-msg-text">hello<br>there</div>
				<div class="chat-msg-date">12:00</div>
			</div>`,
		},
		{
			Id:     "2",
			Author: "200",
			Html: `<div class="chat-msg-item">
				<div class="media-user-name"><a href="/users/200/">alice</a></div>
				<div class="chat-msg-text">hi</div>
				<div class="chat-msg-date">12:01</div>
			</div>`,
		},
		{
			Id:     "3",
			Author: "200",
			Html:   `<div class="chat-msg-item"><div class="chat-msg-text"></div></div>`,
		},
	}, "100")

	require.Len(t, messages, 2)
	require.True(t, messages[0].Mine)
	require.Equal(t, "hello\nthere", messages[0].Text)
	require.False(t, messages[1].Mine)
	require.Equal(t, "alice", messages[1].Author)
}

func TestList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(identityPage))
	})
	mux.HandleFunc("/runner/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "tok", r.PostForm.Get("csrf_token"))
		require.Contains(t, r.PostForm.Get("objects"), "chat_bookmarks")
		require.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))

		payload := map[string]any{
			"objects": []map[string]any{{
				"type": "chat_bookmarks",
				"data": map[string]string{"html": bookmarksFragment},
			}},
		}
		json.NewEncoder(w).Encode(payload)
	})
	client := setup(t, mux)

	chats, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 2)
	require.Equal(t, "users-100-200", chats[0].Id)
}

func TestSend(t *testing.T) {
	var gotRequest string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(identityPage))
	})
	mux.HandleFunc("/runner/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "[]", r.PostForm.Get("objects"))
		gotRequest = r.PostForm.Get("request")
		w.Write([]byte(`{"error":false}`))
	})
	client := setup(t, mux)

	err := client.Send(context.Background(), "users-100-200", "thanks!")
	require.NoError(t, err)
	require.Contains(t, gotRequest, `"action":"chat_message"`)
	require.Contains(t, gotRequest, `"node":"users-100-200"`)
}

func TestSendServerRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(identityPage))
	})
	mux.HandleFunc("/runner/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":true,"msg":"too fast"}`))
	})
	client := setup(t, mux)

	err := client.Send(context.Background(), "users-100-200", "spam")
	var serverErr *core.ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, "too fast", serverErr.Message)
}
