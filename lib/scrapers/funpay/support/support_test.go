package support

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"fptools-backend/lib/scrapers/funpay/core"
	"fptools-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const portalHome = `<html>
<body data-app-config='{"csrf-token":"portalcsrf","userId":100}'>
<select id="ticket_select_form">
	<option value="">Выберите категорию</option>
	<option value="3">Проблема с заказом</option>
	<option value="7">Другое</option>
</select>
<a class="ticket-item" href="/tickets/5150">
	<span class="ticket-subject">Не пришла оплата</span>
	<span class="badge bg-danger">Открыт</span>
	<span class="ticket-date">вчера</span>
</a>
<a class="ticket-item" href="/tickets/5000">
	<span class="ticket-subject">Старое обращение</span>
	<span class="badge bg-success">Закрыт</span>
</a>
</body></html>`

// two servers so the sso chain actually crosses hosts
func setup(t testing.TB, main, portal http.Handler) *Client {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/funpay/support")
	t.Cleanup(cleanup)

	mainServer := httptest.NewServer(main)
	t.Cleanup(mainServer.Close)
	portalServer := httptest.NewServer(portal)
	t.Cleanup(portalServer.Close)

	client, err := NewClient(context.Background(), ClientOptions{
		BaseUrl:     portalServer.URL,
		MainBaseUrl: mainServer.URL,
		Session:     core.NewSession("goldenkeyvalue", "mainsession"),
	})
	require.NoError(t, err)
	return client
}

func portalMux(t testing.TB) (*http.ServeMux, func() *Client) {
	portal := http.NewServeMux()

	main := http.NewServeMux()
	var client *Client
	main.HandleFunc("/support/sso", func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Cookie"), "golden_key=goldenkeyvalue")
		http.Redirect(w, r, client.BaseUrl.String()+"/sso/callback?token=sso1", http.StatusFound)
	})

	portal.HandleFunc("/sso/callback", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "portal_session=psess1; path=/; HttpOnly")
		http.Redirect(w, r, "/tickets", http.StatusFound)
	})
	portal.HandleFunc("/tickets", func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Cookie"), "portal_session=psess1")
		w.Write([]byte(portalHome))
	})

	client = setup(t, main, portal)
	return portal, func() *Client { return client }
}

func TestEnsureSessionWalksSso(t *testing.T) {
	_, getClient := portalMux(t)
	client := getClient()

	require.NoError(t, client.EnsureSession(context.Background()))
	csrf, userId := client.identity()
	require.Equal(t, "portalcsrf", csrf)
	require.Equal(t, "100", userId)

	// second call must not re-run the chain
	require.NoError(t, client.EnsureSession(context.Background()))
}

func TestCategories(t *testing.T) {
	_, getClient := portalMux(t)

	categories, err := getClient().Categories(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Category{
		{Id: "3", Name: "Проблема с заказом"},
		{Id: "7", Name: "Другое"},
	}, categories)
}

func TestTickets(t *testing.T) {
	_, getClient := portalMux(t)

	tickets, err := getClient().Tickets(context.Background())
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	require.Equal(t, TicketSummary{Id: "5150", Subject: "Не пришла оплата", Open: true, Date: "вчера"}, tickets[0])
	require.False(t, tickets[1].Open)
}

func TestRateLimited(t *testing.T) {
	main := http.NewServeMux()
	portal := http.NewServeMux()
	portal.HandleFunc("/tickets", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	client := setup(t, main, portal)
	main.HandleFunc("/support/sso", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, client.BaseUrl.String()+"/tickets", http.StatusFound)
	})

	err := client.EnsureSession(context.Background())
	var serverErr *core.ServerError
	require.ErrorAs(t, err, &serverErr)
}

func TestRedirectLoopBounded(t *testing.T) {
	main := http.NewServeMux()
	main.HandleFunc("/support/sso", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/support/sso", http.StatusFound)
	})
	client := setup(t, main, http.NewServeMux())

	err := client.EnsureSession(context.Background())
	require.ErrorIs(t, err, core.ErrExtraction)
}

const ticketFormPage = `<html>
<body data-app-config='{"csrf-token":"portalcsrf","userId":100}'>
<form>
	<input type="hidden" name="ticket[_token]" value="formtoken1">
	<input type="hidden" name="ticket[fields][_token]" value="skip">
	<div class="form-group">
		<label for="f_order">Номер заказа <span class="required">*</span></label>
		<input type="text" id="f_order" name="ticket[fields][order]" data-condition='{"type":"equals","fieldId":"ticket[fields][kind]","value":"order"}'>
	</div>
	<div class="form-group">
		<label for="f_kind">Тип проблемы</label>
		<select id="f_kind" name="ticket[fields][kind]">
			<option value="order" selected>Заказ</option>
			<option value="payout">Вывод средств</option>
		</select>
	</div>
	<fieldset>
		<legend>Срочность *</legend>
		<input type="radio" id="u1" name="ticket[fields][urgency]" value="low">
		<label for="u1">Обычная</label>
		<input type="radio" id="u2" name="ticket[fields][urgency]" value="high" checked>
		<label for="u2">Срочная</label>
	</fieldset>
	<div class="form-group">
		<label for="f_body">Сообщение</label>
		<textarea id="f_body" name="ticket[comment][body_html]"></textarea>
	</div>
	<input type="file" name="ticket[attachments][]">
</form>
</body></html>`

func TestExtractFields(t *testing.T) {
	fields, err := ExtractFields([]byte(ticketFormPage))
	require.NoError(t, err)
	require.Len(t, fields, 4)

	byName := map[string]Field{}
	for _, f := range fields {
		byName[f.Name] = f
	}
	require.NotContains(t, byName, "ticket[fields][_token]")
	require.NotContains(t, byName, "ticket[attachments][]")

	order := byName["ticket[fields][order]"]
	require.Equal(t, "text", order.Kind)
	require.Equal(t, "Номер заказа", order.Label)
	require.True(t, order.Required)
	require.NotNil(t, order.Condition)
	require.Equal(t, "equals", order.Condition.Type)
	require.Equal(t, "ticket[fields][kind]", order.Condition.FieldId)
	require.Equal(t, "order", order.Condition.Value)

	kind := byName["ticket[fields][kind]"]
	require.Equal(t, "select", kind.Kind)
	require.Equal(t, "order", kind.Value)
	require.Len(t, kind.Options, 2)

	urgency := byName["ticket[fields][urgency]"]
	require.Equal(t, "radio", urgency.Kind)
	require.Equal(t, "Срочность", urgency.Label)
	require.True(t, urgency.Required)
	require.Len(t, urgency.Options, 2)
	require.Equal(t, "Обычная", urgency.Options[0].Label)
	require.Equal(t, "high", urgency.Value)

	comment := byName["ticket[comment][body_html]"]
	require.Equal(t, "textarea", comment.Kind)
}

const ticketPage = `<html>
<body data-app-config='{"csrf-token":"portalcsrf","userId":100}'>
<h1 class="ticket-title">Не пришла оплата</h1>
<div class="close-button">Закрыть обращение</div>
<div class="ticket-comment">
	<div class="avatar" style="background-image: url(/avatars/100/u.png);"></div>
	<div class="comment-author">seller_one</div>
	<div class="comment-body">Оплата за заказ #A1B2 не дошла.</div>
	<div class="comment-date">12:00</div>
</div>
<div class="ticket-comment">
	<div class="avatar" style="background-image: url(/avatars/support/s.png);"></div>
	<div class="comment-author">Поддержка</div>
	<div class="comment-body">Проверяем, ожидайте.</div>
	<div class="comment-date">12:30</div>
</div>
</body></html>`

func TestExtractTicket(t *testing.T) {
	ticket, err := ExtractTicket("5150", "100", []byte(ticketPage))
	require.NoError(t, err)
	require.Equal(t, "Не пришла оплата", ticket.Subject)
	require.True(t, ticket.Open)
	require.Len(t, ticket.Comments, 2)
	require.True(t, ticket.Comments[0].Mine)
	require.Equal(t, "seller_one", ticket.Comments[0].Author)
	require.False(t, ticket.Comments[1].Mine)
}

func TestCreateTicket(t *testing.T) {
	var form url.Values
	portal, getClient := portalMux(t)
	portal.HandleFunc("/tickets/create/3", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(ticketFormPage))
			return
		}
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Write([]byte(`{"action":{"url":"https://support.funpay.com/tickets/5150"}}`))
	})
	client := getClient()

	ticketId, err := client.Create(context.Background(), "3", map[string]string{
		"ticket[fields][order]": "A1B2C3",
	}, "Оплата не дошла")
	require.NoError(t, err)
	require.Equal(t, "5150", ticketId)

	require.Equal(t, "formtoken1", form.Get("ticket[_token]"))
	require.Equal(t, "A1B2C3", form.Get("ticket[fields][order]"))
	require.Equal(t, "<p>Оплата не дошла</p>", form.Get("ticket[comment][body_html]"))
	require.Contains(t, form, "attachments")
}

func TestAddComment(t *testing.T) {
	var form url.Values
	portal, getClient := portalMux(t)
	portal.HandleFunc("/tickets/5150", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><form><input name="add_comment[_token]" value="ctoken"></form></body></html>`))
	})
	portal.HandleFunc("/tickets/5150/comments/create", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Write([]byte(`{}`))
	})

	require.NoError(t, getClient().AddComment(context.Background(), "5150", "Есть новости?"))
	require.Equal(t, "ctoken", form.Get("add_comment[_token]"))
	require.Equal(t, "<p>Есть новости?</p>", form.Get("add_comment[comment][body_html]"))
}

func TestCloseTicket(t *testing.T) {
	var form url.Values
	portal, getClient := portalMux(t)
	portal.HandleFunc("/tickets/5150", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ticketPage))
	})
	portal.HandleFunc("/tickets/5150/close", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Write([]byte(`{}`))
	})

	require.NoError(t, getClient().Close(context.Background(), "5150"))
	require.Equal(t, "portalcsrf", form.Get("close_ticket[_token]"))
}
