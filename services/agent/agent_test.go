package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"fptools-backend/lib/kvstore"
	"fptools-backend/lib/logbuf"
	"fptools-backend/lib/pacing"
	"fptools-backend/lib/scrapers/funpay/chat"
	"fptools-backend/lib/scrapers/funpay/core"
	"fptools-backend/lib/scrapers/funpay/lots"
	"fptools-backend/lib/scrapers/funpay/orders"
	"fptools-backend/lib/scrapers/funpay/raise"
	"fptools-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const identityPage = `<html><body data-app-data='{"csrf-token":"csrf42","userId":100}'></body></html>`

type sentMessage struct {
	Node    string
	Content string
}

// fakeSite implements just enough of the marketplace for the loop:
// the identity page, the runner channel and the order endpoints.
type fakeSite struct {
	mu        sync.Mutex
	bookmarks string
	histories map[string][]map[string]any
	orderPage string
	sent      []sentMessage
	reviews   []url.Values
	raises    int
}

func (f *fakeSite) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage{}, f.sent...)
}

func (f *fakeSite) handler(t testing.TB) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(identityPage))
	})
	mux.HandleFunc("/runner/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		defer f.mu.Unlock()

		if request := r.PostForm.Get("request"); request != "false" && request != "" {
			var envelope struct {
				Action string `json:"action"`
				Data   struct {
					Node    string `json:"node"`
					Content string `json:"content"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(request), &envelope))
			require.Equal(t, "chat_message", envelope.Action)
			f.sent = append(f.sent, sentMessage{Node: envelope.Data.Node, Content: envelope.Data.Content})
			w.Write([]byte(`{"error":false,"objects":[]}`))
			return
		}

		var objects []struct {
			Type string `json:"type"`
			Id   string `json:"id"`
		}
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("objects")), &objects))
		require.NotEmpty(t, objects)

		switch objects[0].Type {
		case "chat_bookmarks":
			data, _ := json.Marshal(map[string]string{"html": f.bookmarks})
			fmt.Fprintf(w, `{"error":false,"objects":[{"type":"chat_bookmarks","data":%s}]}`, data)
		case "chat_node":
			data, _ := json.Marshal(map[string]any{"messages": f.histories[objects[0].Id]})
			fmt.Fprintf(w, `{"error":false,"objects":[{"type":"chat_node","data":%s}]}`, data)
		default:
			t.Errorf("unexpected runner object type %q", objects[0].Type)
		}
	})
	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Write([]byte(f.orderPage))
	})
	mux.HandleFunc("/orders/review", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.reviews = append(f.reviews, r.PostForm)
		f.mu.Unlock()
		w.Write([]byte(`{"error":0}`))
	})
	mux.HandleFunc("/lots/raise", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.raises++
		f.mu.Unlock()
		w.Write([]byte(`{"msg":"ok","error":0}`))
	})
	return mux
}

func message(author int, text string) map[string]any {
	return map[string]any{
		"id":     1,
		"author": author,
		"html": fmt.Sprintf(
			`<div class="media-user-name"><a>user%d</a></div><div class="chat-msg-text">%s</div>`,
			author, text),
	}
}

func contactItem(node, username, lastMessage string, unread bool) string {
	class := "contact-item"
	if unread {
		class += " unread"
	}
	return fmt.Sprintf(`<a class="%s" data-id="%s">
		<div class="media-user-name">%s</div>
		<div class="contact-item-message">%s</div>
	</a>`, class, node, username, lastMessage)
}

func setupAgent(t testing.TB, site *fakeSite) *Agent {
	cleanup := telemetry.SetupForTesting(t, "test:services/agent")
	t.Cleanup(cleanup)

	server := httptest.NewServer(site.handler(t))
	t.Cleanup(server.Close)

	coreClient, err := core.NewClient(context.Background(), core.ClientOptions{
		BaseUrl:   server.URL,
		GoldenKey: "goldenkeyvalue",
	})
	require.NoError(t, err)

	store, err := kvstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(Options{
		Chat:     chat.NewClient(coreClient),
		Lots:     lots.NewClient(coreClient, lots.NewInactiveCache(store)),
		Orders:   orders.NewClient(coreClient),
		Raise:    raise.NewClient(coreClient, store, pacing.Zero()),
		Settings: NewStoreSettings(store),
		Store:    store,
		Pace:     pacing.Zero(),
		Log:      logbuf.New(100),
	})
}

func TestAutoResponseMatching(t *testing.T) {
	site := &fakeSite{
		bookmarks: contactItem("users-100-200", "alice", "!help", true) +
			contactItem("users-100-300", "bob", "ну привет же", true) +
			contactItem("users-100-400", "carol", "дай !help пожалуйста", true) +
			contactItem("users-100-500", "dave", "привет", false),
		histories: map[string][]map[string]any{
			"users-100-200": {message(200, "!help")},
			"users-100-300": {message(300, "ну привет же")},
			"users-100-400": {message(400, "дай !help пожалуйста")},
		},
	}
	a := setupAgent(t, site)
	require.NoError(t, a.Settings.SetAutoResponse(true))
	require.NoError(t, a.Settings.SetCommands([]Command{
		{Trigger: "!help", Response: "Команды: !help", ExactMatch: true},
		{Trigger: "привет", Response: "Здравствуйте!"},
	}))

	require.NoError(t, a.RunCycle(context.Background()))

	sent := site.sentMessages()
	require.Len(t, sent, 2)
	byNode := map[string]string{}
	for _, m := range sent {
		byNode[m.Node] = m.Content
	}
	// exact command answers only the exact message
	require.Equal(t, "Команды: !help", byNode["users-100-200"])
	// substring command matches case-insensitively inside the text
	require.Equal(t, "Здравствуйте!", byNode["users-100-300"])
	require.NotContains(t, byNode, "users-100-400")
	// read chats are never answered
	require.NotContains(t, byNode, "users-100-500")
}

func TestAutoResponseSkipsOwnLastMessage(t *testing.T) {
	site := &fakeSite{
		bookmarks: contactItem("users-100-200", "alice", "Здравствуйте!", true),
		histories: map[string][]map[string]any{
			"users-100-200": {message(200, "привет"), message(100, "Здравствуйте!")},
		},
	}
	a := setupAgent(t, site)
	require.NoError(t, a.Settings.SetAutoResponse(true))
	require.NoError(t, a.Settings.SetCommands([]Command{{Trigger: "привет", Response: "Здравствуйте!"}}))

	require.NoError(t, a.RunCycle(context.Background()))
	require.Empty(t, site.sentMessages())
}

const orderPage = `<html><body>
<div class="media-user-name"><a href="https://funpay.com/users/200/">buyer_one</a></div>
<div class="param-item"><h5>Краткое описание</h5><div>Аккаунт</div></div>
<div class="review-item">
	<div class="rating"><div class="rating5"></div></div>
	<div class="review-item-text">Отлично</div>
</div>
</body></html>`

func TestReviewAnnouncementAnswersOrder(t *testing.T) {
	site := &fakeSite{
		bookmarks: contactItem("users-100-200", "alice", "новый отзыв", true),
		histories: map[string][]map[string]any{
			"users-100-200": {message(200, "Покупатель buyer_one написал отзыв к заказу #A1B2.")},
		},
		orderPage: orderPage,
	}
	a := setupAgent(t, site)
	require.NoError(t, a.Settings.SetAutoResponse(true))
	require.NoError(t, a.Settings.SetAutoReviewReply(true))
	require.NoError(t, a.Settings.SetReviewTemplates(orders.ReplyTemplates{
		5: "Спасибо за отзыв, $username!",
	}))

	require.NoError(t, a.RunCycle(context.Background()))

	site.mu.Lock()
	defer site.mu.Unlock()
	require.Len(t, site.reviews, 1)
	require.Equal(t, "A1B2", site.reviews[0].Get("orderId"))
	require.Equal(t, "5", site.reviews[0].Get("rating"))
	require.Equal(t, "Спасибо за отзыв, buyer_one!", site.reviews[0].Get("text"))
	require.Empty(t, site.sent)
}

func TestGreetingCooldown(t *testing.T) {
	site := &fakeSite{
		bookmarks: contactItem("users-100-200", "alice", "здравствуйте", true),
		histories: map[string][]map[string]any{
			"users-100-200": {message(200, "здравствуйте")},
		},
	}
	a := setupAgent(t, site)
	require.NoError(t, a.Settings.SetGreeting(Greeting{
		Enabled:  true,
		Text:     "Привет, $username! Отвечу в течение часа.",
		Cooldown: time.Hour,
	}))

	require.NoError(t, a.RunCycle(context.Background()))
	require.Len(t, site.sentMessages(), 1)
	require.Equal(t, "Привет, alice! Отвечу в течение часа.", site.sentMessages()[0].Content)

	// inside the cooldown nothing more goes out
	require.NoError(t, a.RunCycle(context.Background()))
	require.Len(t, site.sentMessages(), 1)

	// age the log entry past the cooldown
	sentLog := map[string]int64{}
	require.NoError(t, a.Store.GetJSON(greetingLogKey, &sentLog))
	sentLog["users-100-200"] = time.Now().Add(-2 * time.Hour).UnixMilli()
	require.NoError(t, a.Store.SetJSON(greetingLogKey, sentLog))

	require.NoError(t, a.RunCycle(context.Background()))
	require.Len(t, site.sentMessages(), 2)
}

func TestGreetingSkipsSystemMessages(t *testing.T) {
	site := &fakeSite{
		bookmarks: contactItem("users-100-200", "alice", "Покупатель alice оплатил заказ #A1B2.", true),
	}
	a := setupAgent(t, site)
	require.NoError(t, a.Settings.SetGreeting(Greeting{Enabled: true, Text: "Привет!", Cooldown: time.Hour}))

	require.NoError(t, a.RunCycle(context.Background()))
	require.Empty(t, site.sentMessages())
}

func TestDisabledFlagsAreNoops(t *testing.T) {
	site := &fakeSite{
		bookmarks: contactItem("users-100-200", "alice", "привет", true),
		histories: map[string][]map[string]any{
			"users-100-200": {message(200, "привет")},
		},
	}
	a := setupAgent(t, site)
	require.NoError(t, a.Settings.SetCommands([]Command{{Trigger: "привет", Response: "Здравствуйте!"}}))

	require.NoError(t, a.RunCycle(context.Background()))
	require.Empty(t, site.sentMessages())
	site.mu.Lock()
	require.Zero(t, site.raises)
	site.mu.Unlock()

	status := a.Status()
	require.Equal(t, 1, status.UnreadChats)
	require.False(t, status.LastCycle.IsZero())
}
