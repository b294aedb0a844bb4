package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// Normalize strips non-printable runes, trims surrounding whitespace
// and collapses inner whitespace runs into single spaces. Marketplace
// markup pads text nodes with arbitrary indentation.
func Normalize(s string) string {
	s = removeNonPrintable(s)
	s = strings.Trim(s, " \t\n")
	return innerWhitespace.ReplaceAllString(s, " ")
}

// DigitSuffix returns the first decimal digit found in any of the
// whitespace-separated class names, or -1. Rendered markup sometimes
// encodes a count only as a numeric class suffix (e.g. "rating5").
func DigitSuffix(class string) int {
	for _, c := range class {
		if c >= '0' && c <= '9' {
			return int(c - '0')
		}
	}
	return -1
}
