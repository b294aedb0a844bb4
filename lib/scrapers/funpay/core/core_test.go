package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"fptools-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func setup(t testing.TB, handler http.Handler) *Client {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/funpay/core")
	t.Cleanup(cleanup)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), ClientOptions{
		BaseUrl:   server.URL,
		GoldenKey: "goldenkeyvalue",
	})
	require.NoError(t, err)
	return client
}

func TestSessionCookieHeader(t *testing.T) {
	s := NewSession("gk", "")
	require.Equal(t, "golden_key=gk", s.CookieHeader())

	s.ObserveSetCookie([]string{"PHPSESSID=abc123; path=/; HttpOnly"})
	require.Equal(t, "golden_key=gk; PHPSESSID=abc123", s.CookieHeader())

	// no Set-Cookie leaves the session id untouched
	s.ObserveSetCookie(nil)
	require.Equal(t, "abc123", s.SessionId())

	// the credential never comes from the wire
	s.ObserveSetCookie([]string{"golden_key=stolen; path=/"})
	require.Equal(t, "gk", s.GoldenKey())

	s.ObserveSetCookie([]string{"locale=ru"})
	require.Contains(t, s.CookieHeader(), "locale=ru")
}

func TestSessionRotation(t *testing.T) {
	var gotCookie string
	mux := http.NewServeMux()
	mux.HandleFunc("/rotate", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "PHPSESSID=rotated; path=/")
		w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/next", func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		w.Write([]byte("<html></html>"))
	})
	client := setup(t, mux)

	ctx := context.Background()
	_, err := client.Get(ctx, "/rotate")
	require.NoError(t, err)
	_, err = client.Get(ctx, "/next")
	require.NoError(t, err)

	require.Contains(t, gotCookie, "PHPSESSID=rotated")
	require.Contains(t, gotCookie, "golden_key=goldenkeyvalue")
}

func TestChallengeDetection(t *testing.T) {
	require.True(t, IsChallenge([]byte("<title>Just a moment...</title>")))
	require.True(t, IsChallenge([]byte(`<script src="/cdn-cgi/challenge-platform/x.js">`)))
	require.False(t, IsChallenge([]byte(`<div class="offer-list-title">lots</div>`)))
}

func TestGetBlocked(t *testing.T) {
	client := setup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><title>Just a moment...</title></html>"))
	}))

	_, err := client.Get(context.Background(), "/")
	require.ErrorIs(t, err, ErrBlocked)
}

func TestExtractIdentity(t *testing.T) {
	body := []byte(`<html><body data-app-data='{"csrf-token":"abc","userId":"7"}'></body></html>`)
	identity, err := ExtractIdentity(body, "data-app-data")
	require.NoError(t, err)
	require.Equal(t, Identity{Csrf: "abc", UserId: "7"}, identity)

	// the support subdomain uses camel case and a numeric user id
	body = []byte(`<html><body data-app-config='{"csrfToken":"xyz","userId":42}'></body></html>`)
	identity, err = ExtractIdentity(body, "data-app-config")
	require.NoError(t, err)
	require.Equal(t, Identity{Csrf: "xyz", UserId: "42"}, identity)

	_, err = ExtractIdentity([]byte(`<html><body></body></html>`), "data-app-data")
	require.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestFetchIdentity(t *testing.T) {
	client := setup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body data-app-data='{"csrf-token":"tok","userId":99}'></body></html>`))
	}))

	identity, err := client.FetchIdentity(context.Background())
	require.NoError(t, err)
	require.Equal(t, Identity{Csrf: "tok", UserId: "99"}, identity)
}

func TestFetchIdentityRequiresAuth(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/funpay/core")
	t.Cleanup(cleanup)

	client, err := NewClient(context.Background(), ClientOptions{})
	require.NoError(t, err)

	_, err = client.FetchIdentity(context.Background())
	require.ErrorIs(t, err, ErrAuthRequired)
}
