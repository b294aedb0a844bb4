package lots

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"fptools-backend/lib/htmlutil"
	"fptools-backend/lib/scrapers/funpay/core"

	"github.com/PuerkitoBio/goquery"
)

type Lot struct {
	Id           string
	Title        string
	NodeId       string
	CategoryName string
	Price        *float64
	Currency     string
	Amount       *int
	Server       string
	Side         string
	Active       bool
	AutoDelivery bool
}

var (
	nodeHrefRe = regexp.MustCompile(`/(?:lots|chips)/(\d+)`)
	offerIdRe  = regexp.MustCompile(`(?:offer=|id=)(\d+)`)
)

// ExtractLots parses the user's profile page into listings. Category
// blocks or rows missing their required ids are skipped, optional
// columns degrade to empty values since they vary per category.
func ExtractLots(body []byte) ([]Lot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	var out []Lot
	doc.Find(".offer").Each(func(_ int, block *goquery.Selection) {
		categoryLink := block.Find(".offer-list-title a").First()
		if categoryLink.Length() == 0 {
			return
		}
		categoryName := htmlutil.Normalize(categoryLink.Text())
		nodeMatch := nodeHrefRe.FindStringSubmatch(categoryLink.AttrOr("href", ""))
		if nodeMatch == nil {
			return
		}
		nodeId := nodeMatch[1]

		block.Find("a.tc-item").Each(func(_ int, row *goquery.Selection) {
			idMatch := offerIdRe.FindStringSubmatch(row.AttrOr("href", ""))
			if idMatch == nil {
				return
			}

			lot := Lot{
				Id:           idMatch[1],
				Title:        htmlutil.Normalize(row.Find(".tc-desc-text").Text()),
				NodeId:       nodeId,
				CategoryName: categoryName,
				Server:       htmlutil.Normalize(row.Find(".tc-server").Text()),
				Side:         htmlutil.Normalize(row.Find(".tc-side").Text()),
				Active:       !row.HasClass("warning"),
				AutoDelivery: row.Find(".auto-dlv-icon").Length() > 0,
			}

			if priceDiv := row.Find(".tc-price").First(); priceDiv.Length() > 0 {
				if price, err := strconv.ParseFloat(priceDiv.AttrOr("data-s", ""), 64); err == nil {
					lot.Price = &price
				}
				lot.Currency = htmlutil.Normalize(priceDiv.Find(".unit").Text())
			}
			rawAmount := strings.ReplaceAll(row.Find(".tc-amount").Text(), " ", "")
			if amount, err := strconv.Atoi(strings.TrimSpace(rawAmount)); err == nil {
				lot.Amount = &amount
			}

			out = append(out, lot)
		})
	})
	return out, nil
}

type Option struct {
	Value string
	Label string
}

// Field is one entry of the open, per-category edit-form schema. The
// marketplace defines fields per category so nothing here is a fixed
// struct.
type Field struct {
	Name    string
	Kind    string // text, hidden, checkbox, radio, select, textarea
	Value   string
	Label   string
	Options []Option
	// "ru"/"en" when the field or its container is locale scoped
	Locale string
}

// FieldSet is everything needed to submit the form back: the fields,
// the csrf token the form was rendered with and the session id
// snapshot it must be submitted under.
type FieldSet struct {
	Fields    map[string]Field
	Currency  string
	Csrf      string
	SessionId string
}

// Values flattens the set back into submittable form data. Every
// field read from the edit page is echoed, hidden ones included, or
// the server rejects the save.
func (fs FieldSet) Values() map[string]string {
	out := make(map[string]string, len(fs.Fields))
	for name, field := range fs.Fields {
		out[name] = field.Value
	}
	return out
}

func localeOf(formGroup *goquery.Selection, name string) string {
	if formGroup != nil && formGroup.Length() > 0 {
		if locale := formGroup.AttrOr("data-locale", ""); locale != "" {
			return locale
		}
	}
	switch {
	case strings.Contains(name, "[ru]"):
		return "ru"
	case strings.Contains(name, "[en]"):
		return "en"
	}
	return ""
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// the "active"/"deactivate after sale" checkboxes must round-trip in
// the hidden "on"/"" encoding or the server flips them on save
func isDeactivateCheckbox(label string) bool {
	if containsFold(label, "Активное") && containsFold(label, "Деактивировать") {
		return true
	}
	return containsFold(label, "деактивировать после продажи")
}

// ExtractFieldSet harvests every form field off a lot edit page.
// Names are deduplicated first-wins, except hidden re-encodings and
// radio groups which collapse into one logical field per name.
func ExtractFieldSet(body []byte) (FieldSet, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return FieldSet{}, err
	}

	csrf := ""
	if identity, err := core.ExtractIdentity(body, "data-app-data"); err == nil {
		csrf = identity.Csrf
	}
	if csrf == "" {
		csrf = doc.Find("input[name='csrf_token']").First().AttrOr("value", "")
	}
	if csrf == "" {
		return FieldSet{}, fmt.Errorf("%w: csrf token on edit form", core.ErrExtraction)
	}

	fields := map[string]Field{}
	seen := map[string]bool{}

	doc.Find("input[name]").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name == "" || name == "query" || strings.HasPrefix(name, "cc-option") || name == "csrf_token" {
			return
		}

		// quantity is always echoed in the hidden encoding
		if name == "amount" {
			fields[name] = Field{Name: name, Kind: "hidden", Value: input.AttrOr("value", "")}
			return
		}

		kind := input.AttrOr("type", "text")
		if kind == "" {
			kind = "text"
		}
		formGroup := input.ParentsFiltered(".form-group").First()
		label := htmlutil.Normalize(formGroup.Find("label").Text())
		if label == "" {
			label = name
		}

		if kind == "checkbox" && isDeactivateCheckbox(label) {
			value := ""
			if _, checked := input.Attr("checked"); checked {
				value = "on"
			}
			fields[name] = Field{Name: name, Kind: "hidden", Value: value}
			return
		}

		if kind == "radio" {
			optionLabel := label
			if id := input.AttrOr("id", ""); id != "" {
				if l := htmlutil.Normalize(doc.Find("label[for='" + id + "']").Text()); l != "" {
					optionLabel = l
				}
			}
			option := Option{Value: input.AttrOr("value", ""), Label: optionLabel}

			field, ok := fields[name]
			if !ok {
				field = Field{Name: name, Kind: "radio", Label: label, Locale: localeOf(formGroup, name)}
			}
			field.Options = append(field.Options, option)
			if _, checked := input.Attr("checked"); checked {
				field.Value = option.Value
			}
			fields[name] = field
			seen[name] = true
			return
		}

		if kind != "hidden" && seen[name] {
			return
		}
		seen[name] = true

		locale := localeOf(formGroup, name)
		switch kind {
		case "checkbox":
			value := ""
			if _, checked := input.Attr("checked"); checked {
				value = "on"
			}
			fields[name] = Field{Name: name, Kind: "checkbox", Value: value, Label: label, Locale: locale}
		case "hidden":
			fields[name] = Field{Name: name, Kind: "hidden", Value: input.AttrOr("value", ""), Locale: locale}
		default:
			fields[name] = Field{Name: name, Kind: "text", Value: input.AttrOr("value", ""), Label: label, Locale: locale}
		}
	})

	doc.Find("textarea[name]").Each(func(_ int, textarea *goquery.Selection) {
		name := textarea.AttrOr("name", "")
		if name == "" || seen[name] {
			return
		}
		seen[name] = true

		formGroup := textarea.ParentsFiltered(".form-group").First()
		label := htmlutil.Normalize(formGroup.Find("label").Text())
		if label == "" {
			label = name
		}
		fields[name] = Field{
			Name:   name,
			Kind:   "textarea",
			Value:  textarea.Text(),
			Label:  label,
			Locale: localeOf(formGroup, name),
		}
	})

	doc.Find("select[name]").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		if name == "" || seen[name] {
			return
		}
		seen[name] = true

		formGroup := sel.ParentsFiltered(".form-group").First()
		if formGroup.HasClass("hidden") {
			return
		}
		label := htmlutil.Normalize(formGroup.Find("label").Text())
		if label == "" {
			label = name
		}

		var options []Option
		sel.Find("option").Each(func(_ int, option *goquery.Selection) {
			options = append(options, Option{
				Value: option.AttrOr("value", ""),
				Label: htmlutil.Normalize(option.Text()),
			})
		})
		fields[name] = Field{
			Name:    name,
			Kind:    "select",
			Value:   sel.Find("option[selected]").AttrOr("value", ""),
			Label:   label,
			Options: options,
			Locale:  localeOf(formGroup, name),
		}
	})

	return FieldSet{
		Fields:   fields,
		Currency: htmlutil.Normalize(doc.Find(".form-control-feedback").First().Text()),
		Csrf:     csrf,
	}, nil
}
