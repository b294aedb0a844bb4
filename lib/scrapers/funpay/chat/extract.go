package chat

import (
	"bytes"
	"strconv"
	"strings"

	"fptools-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

type Summary struct {
	Id          string
	Username    string
	LastMessage string
	Unread      bool
	// counterpart's user id, derived from the node name; empty when
	// the chat is not a plain user-to-user node
	UserId string
	Date   string
}

type Message struct {
	Id       string
	Author   string
	Text     string
	Mine     bool
	Time     string
	ImageUrl string
}

// counterpartId splits a "users-<a>-<b>" node name and returns the id
// that is not ours.
func counterpartId(nodeId, selfId string) string {
	parts := strings.Split(nodeId, "-")
	if len(parts) != 3 || parts[0] != "users" {
		return ""
	}
	if parts[1] == selfId {
		return parts[2]
	}
	return parts[1]
}

// ExtractSummaries parses the bookmarks fragment from the runner into
// chat summaries. Items without an id are skipped, other missing
// fields degrade to empty values since the markup varies per locale.
func ExtractSummaries(fragment []byte, selfId string) ([]Summary, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(fragment))
	if err != nil {
		return nil, err
	}

	var out []Summary
	doc.Find("a.contact-item").Each(func(_ int, item *goquery.Selection) {
		id := item.AttrOr("data-id", "")
		if id == "" {
			return
		}
		out = append(out, Summary{
			Id:          id,
			Username:    htmlutil.Normalize(item.Find("div.media-user-name").Text()),
			LastMessage: htmlutil.Normalize(item.Find("div.contact-item-message").Text()),
			Unread:      item.HasClass("unread"),
			UserId:      counterpartId(id, selfId),
			Date:        htmlutil.Normalize(item.Find("div.contact-item-time").Text()),
		})
	})
	return out, nil
}

type rawMessage struct {
	Id     any    `json:"id"`
	Author any    `json:"author"`
	Html   string `json:"html"`
}

// ids render as numbers or strings depending on the page
func jsonId(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	default:
		return ""
	}
}

func extractHistory(raw []rawMessage, selfId string) []Message {
	var out []Message
	for _, m := range raw {
		// <br> carries line structure the text extractor would drop
		html := strings.ReplaceAll(m.Html, "<br>", "\n")
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			continue
		}

		authorId := jsonId(m.Author)
		msg := Message{
			Id:     jsonId(m.Id),
			Author: htmlutil.Normalize(doc.Find("div.media-user-name a").First().Text()),
			Text:   doc.Find("div.chat-msg-text").First().Text(),
			Mine:   authorId != "" && authorId == selfId,
			Time:   htmlutil.Normalize(doc.Find("div.chat-msg-date").First().Text()),
		}

		if link := doc.Find("a.chat-img-link").First(); link.Length() > 0 {
			msg.ImageUrl = link.AttrOr("href", "")
		}
		if msg.Text == "" && msg.ImageUrl == "" {
			continue
		}
		out = append(out, msg)
	}
	return out
}
