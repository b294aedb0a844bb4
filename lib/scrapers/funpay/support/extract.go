package support

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"fptools-backend/lib/htmlutil"
	"fptools-backend/lib/scrapers/funpay/core"

	"github.com/PuerkitoBio/goquery"
)

type Category struct {
	Id   string
	Name string
}

// ExtractCategories lists ticket categories off the category picker.
// The placeholder option has no value and is dropped.
func ExtractCategories(body []byte) ([]Category, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	var out []Category
	doc.Find("select#ticket_select_form option").Each(func(_ int, option *goquery.Selection) {
		id := option.AttrOr("value", "")
		if id == "" {
			return
		}
		out = append(out, Category{Id: id, Name: htmlutil.Normalize(option.Text())})
	})
	if out == nil {
		return nil, core.ErrExtraction
	}
	return out, nil
}

type Option struct {
	Value string
	Label string
}

// Condition gates a field's visibility on another field's value.
type Condition struct {
	Type    string `json:"type"`
	FieldId string `json:"fieldId"`
	Value   string `json:"value"`
}

type Field struct {
	Name      string
	Kind      string // text, select, textarea, radio, checkbox
	Label     string
	Value     string
	Required  bool
	Options   []Option
	Condition *Condition
}

func fieldLabel(doc *goquery.Document, element *goquery.Selection, name string) (string, bool) {
	label := element.Closest(".form-group").Find("label").First()
	if id := element.AttrOr("id", ""); id != "" {
		if forLabel := doc.Find("label[for='" + id + "']").First(); forLabel.Length() > 0 {
			label = forLabel
		}
	}
	text := htmlutil.Normalize(label.Text())
	required := label.Find(".required").Length() > 0 || strings.HasSuffix(text, "*")
	text = strings.TrimRight(text, "* ")
	if text == "" {
		text = name
	}
	return text, required
}

func fieldCondition(element *goquery.Selection) *Condition {
	raw := element.AttrOr("data-condition", "")
	if raw == "" {
		raw = element.Closest(".form-group").AttrOr("data-condition", "")
	}
	if raw == "" {
		return nil
	}
	var cond Condition
	if err := json.Unmarshal([]byte(raw), &cond); err != nil {
		return nil
	}
	return &cond
}

// ExtractFields harvests the ticket form of one category: the
// category-specific field inputs plus the free-form comment box.
// Token and attachment plumbing is managed by the client, not
// surfaced as fields.
func ExtractFields(body []byte) ([]Field, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	var out []Field
	seen := map[string]bool{}

	doc.Find("input[name^='ticket[fields]'], select[name^='ticket[fields]'], textarea[name^='ticket[fields]']").
		Each(func(_ int, element *goquery.Selection) {
			name := element.AttrOr("name", "")
			if strings.Contains(name, "_token") || strings.Contains(name, "attachments") {
				return
			}

			kind := goquery.NodeName(element)
			if kind == "input" {
				kind = element.AttrOr("type", "text")
				if kind == "" {
					kind = "text"
				}
			}

			if kind == "radio" {
				option := Option{
					Value: element.AttrOr("value", ""),
					Label: radioLabel(doc, element),
				}
				if seen[name] {
					for i := range out {
						if out[i].Name == name {
							out[i].Options = append(out[i].Options, option)
							if _, checked := element.Attr("checked"); checked {
								out[i].Value = option.Value
							}
						}
					}
					return
				}
				seen[name] = true

				legend := htmlutil.Normalize(element.Closest("fieldset").Find("legend").First().Text())
				required := strings.HasSuffix(legend, "*")
				legend = strings.TrimRight(legend, "* ")
				if legend == "" {
					legend = name
				}
				field := Field{
					Name: name, Kind: "radio", Label: legend, Required: required,
					Options: []Option{option}, Condition: fieldCondition(element),
				}
				if _, checked := element.Attr("checked"); checked {
					field.Value = option.Value
				}
				out = append(out, field)
				return
			}

			if seen[name] {
				return
			}
			seen[name] = true

			label, required := fieldLabel(doc, element, name)
			field := Field{
				Name: name, Kind: kind, Label: label,
				Required: required, Condition: fieldCondition(element),
			}
			switch kind {
			case "select":
				element.Find("option").Each(func(_ int, option *goquery.Selection) {
					field.Options = append(field.Options, Option{
						Value: option.AttrOr("value", ""),
						Label: htmlutil.Normalize(option.Text()),
					})
				})
				field.Value = element.Find("option[selected]").AttrOr("value", "")
			case "textarea":
				field.Value = element.Text()
			default:
				field.Value = element.AttrOr("value", "")
			}
			out = append(out, field)
		})

	doc.Find("textarea[name^='ticket[comment]']").Each(func(_ int, element *goquery.Selection) {
		name := element.AttrOr("name", "")
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		label, required := fieldLabel(doc, element, name)
		out = append(out, Field{Name: name, Kind: "textarea", Label: label, Required: required})
	})

	if out == nil {
		return nil, core.ErrExtraction
	}
	return out, nil
}

func radioLabel(doc *goquery.Document, element *goquery.Selection) string {
	if id := element.AttrOr("id", ""); id != "" {
		if l := htmlutil.Normalize(doc.Find("label[for='" + id + "']").Text()); l != "" {
			return l
		}
	}
	return element.AttrOr("value", "")
}

type TicketSummary struct {
	Id      string
	Subject string
	Open    bool
	Date    string
}

var ticketHrefRe = regexp.MustCompile(`/tickets/(\d+)`)

// ExtractTickets lists the user's tickets. Status rides on the badge
// color: red badges are awaiting an answer, green ones are resolved.
func ExtractTickets(body []byte) ([]TicketSummary, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	var out []TicketSummary
	doc.Find("a.ticket-item").Each(func(_ int, item *goquery.Selection) {
		m := ticketHrefRe.FindStringSubmatch(item.AttrOr("href", ""))
		if m == nil {
			return
		}
		out = append(out, TicketSummary{
			Id:      m[1],
			Subject: htmlutil.Normalize(item.Find(".ticket-subject").Text()),
			Open:    item.Find(".badge.bg-danger").Length() > 0,
			Date:    htmlutil.Normalize(item.Find(".ticket-date").Text()),
		})
	})
	return out, nil
}

type Comment struct {
	Author string
	Text   string
	Time   string
	Mine   bool
}

type Ticket struct {
	Id       string
	Subject  string
	Open     bool
	Comments []Comment
}

// ExtractTicket parses one ticket thread. Author identity on the
// portal is only recoverable from the avatar image path, which embeds
// the main-site user id.
func ExtractTicket(ticketId, selfUserId string, body []byte) (Ticket, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return Ticket{}, err
	}

	ticket := Ticket{
		Id:      ticketId,
		Subject: htmlutil.Normalize(doc.Find(".ticket-title").First().Text()),
		Open:    doc.Find(".close-button").Length() > 0,
	}

	doc.Find(".ticket-comment").Each(func(_ int, block *goquery.Selection) {
		style := block.Find(".avatar").AttrOr("style", "")
		ticket.Comments = append(ticket.Comments, Comment{
			Author: htmlutil.Normalize(block.Find(".comment-author").Text()),
			Text:   htmlutil.Normalize(block.Find(".comment-body").Text()),
			Time:   htmlutil.Normalize(block.Find(".comment-date").Text()),
			Mine:   selfUserId != "" && strings.Contains(style, "/"+selfUserId+"/"),
		})
	})
	return ticket, nil
}
