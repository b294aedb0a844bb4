package orders

import (
	"bytes"
	"regexp"
	"strings"

	"fptools-backend/lib/htmlutil"
	"fptools-backend/lib/scrapers/funpay/core"

	"github.com/PuerkitoBio/goquery"
)

// Order is what the order page exposes about one sale.
type Order struct {
	Id         string
	Buyer      string
	BuyerId    string
	LotName    string
	Status     string
	Rating     int // 1..5, 0 when the buyer left no review
	ReviewText string
}

var userHrefRe = regexp.MustCompile(`/users/(\d+)`)

// labels of the short-description row across the two site locales
var shortDescLabels = []string{"краткое описание", "short description"}

// ExtractOrder parses one order page. The lot name prefers the
// "short description" parameter row and falls back to the free-form
// description block; either way it is trimmed of label punctuation
// and capped, order pages render arbitrarily long seller text there.
func ExtractOrder(orderId string, body []byte) (Order, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return Order{}, err
	}

	order := Order{Id: orderId}

	buyerLink := doc.Find(".media-user-name a").First()
	order.Buyer = htmlutil.Normalize(buyerLink.Text())
	if m := userHrefRe.FindStringSubmatch(buyerLink.AttrOr("href", "")); m != nil {
		order.BuyerId = m[1]
	}
	if order.Buyer == "" {
		return Order{}, core.ErrExtraction
	}

	order.Status = htmlutil.Normalize(doc.Find(".order-status").First().Text())

	doc.Find(".param-item").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		label := strings.ToLower(htmlutil.Normalize(item.Find("h5").First().Text()))
		for _, want := range shortDescLabels {
			if strings.Contains(label, want) {
				order.LotName = htmlutil.Normalize(item.Find("div").First().Text())
				return false
			}
		}
		return true
	})
	if order.LotName == "" {
		order.LotName = htmlutil.Normalize(doc.Find(".order-desc div").First().Text())
	}
	order.LotName = strings.TrimLeft(order.LotName, ":- ")
	if runes := []rune(order.LotName); len(runes) > 100 {
		order.LotName = string(runes[:100])
	}

	if rating := doc.Find(".review-item .rating div").First(); rating.Length() > 0 {
		if n := htmlutil.DigitSuffix(rating.AttrOr("class", "")); n > 0 {
			order.Rating = n
		}
	}
	order.ReviewText = htmlutil.Normalize(doc.Find(".review-item-text").First().Text())

	return order, nil
}
