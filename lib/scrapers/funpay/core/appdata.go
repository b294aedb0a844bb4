package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/PuerkitoBio/goquery"
)

// ExtractIdentity pulls the csrf token and user id out of the JSON
// blob the server embeds as an attribute on <body>. The main site uses
// data-app-data with a "csrf-token" key, the support subdomain uses
// data-app-config with "csrfToken"; both casings are aliases of the
// same logical field. The user id renders as a number or a string
// depending on the page.
func ExtractIdentity(body []byte, attr string) (Identity, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	raw := doc.Find("body").AttrOr(attr, "")
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: no %s attribute", ErrInvalidIdentity, attr)
	}

	var cfg map[string]any
	err = json.Unmarshal([]byte(raw), &cfg)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	identity := Identity{
		Csrf:   jsonString(cfg, "csrf-token", "csrfToken"),
		UserId: jsonString(cfg, "userId"),
	}
	if identity.Csrf == "" || identity.UserId == "" {
		return Identity{}, ErrInvalidIdentity
	}
	return identity, nil
}

func jsonString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}
