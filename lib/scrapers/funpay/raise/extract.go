package raise

import (
	"bytes"
	"regexp"

	"fptools-backend/lib/htmlutil"
	"fptools-backend/lib/scrapers/funpay/core"

	"github.com/PuerkitoBio/goquery"
)

// Category is one bumpable block on the seller's profile page.
type Category struct {
	NodeId string
	GameId string
	Name   string
}

var (
	lotsHrefRe  = regexp.MustCompile(`/lots/(\d+)`)
	chipsHrefRe = regexp.MustCompile(`/chips/(\d+)`)
	anyHrefRe   = regexp.MustCompile(`/(?:lots|chips)/(\d+)`)
)

// ExtractCategories lists the bumpable categories off a profile page.
// Currency ("chips") categories cannot be bumped and are skipped.
func ExtractCategories(body []byte) []Category {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil
	}

	var out []Category
	seen := map[string]bool{}
	doc.Find(".offer").Each(func(_ int, block *goquery.Selection) {
		link := block.Find(".offer-list-title a").First()
		href := link.AttrOr("href", "")
		if chipsHrefRe.MatchString(href) {
			return
		}
		m := lotsHrefRe.FindStringSubmatch(href)
		if m == nil || seen[m[1]] {
			return
		}
		seen[m[1]] = true

		out = append(out, Category{
			NodeId: m[1],
			GameId: block.AttrOr("data-game-id", ""),
			Name:   htmlutil.Normalize(link.Text()),
		})
	})
	return out
}

// ExtractGameIndex builds the category→game map off the storefront.
// Each promoted game block carries its game id and links every one of
// its categories.
func ExtractGameIndex(body []byte) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	index := map[string]string{}
	doc.Find(".promo-game-item").Each(func(_ int, block *goquery.Selection) {
		gameId := block.Find(".game-title").First().AttrOr("data-id", "")
		if gameId == "" {
			return
		}
		block.Find("a").Each(func(_ int, link *goquery.Selection) {
			if m := anyHrefRe.FindStringSubmatch(link.AttrOr("href", "")); m != nil {
				index[m[1]] = gameId
			}
		})
	})
	if len(index) == 0 {
		return nil, core.ErrExtraction
	}
	return index, nil
}
