package website

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	rpdf "rsc.io/pdf"
)

// boilerplate elements never carry mission text.
const boilerplateSelector = "script, style, noscript, header, footer, nav, iframe, svg, form, template"

// ExtractHTMLText returns the page title and the visible text of an HTML
// document with navigation chrome removed.
func ExtractHTMLText(body []byte) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	title = normalizeSpace(doc.Find("title").First().Text())

	doc.Find(boilerplateSelector).Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	// Block elements often sit next to each other without whitespace, so text
	// nodes are joined with a space instead of using Selection.Text.
	var b strings.Builder
	for _, n := range root.Nodes {
		collectText(n, &b)
	}
	text = normalizeSpace(b.String())
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && !strings.Contains(text, strings.TrimSpace(desc)) {
		text = normalizeSpace(desc + " " + text)
	}
	return title, text, nil
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// extractPDFText pulls the text layer out of a PDF. rsc.io/pdf panics on some
// malformed files.
func extractPDFText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var builder strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}
	return normalizeSpace(builder.String()), nil
}

func isPDF(contentType string, body []byte) bool {
	return strings.Contains(strings.ToLower(contentType), "application/pdf") || bytes.HasPrefix(body, []byte("%PDF-"))
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CapText truncates text to at most limit runes on a word boundary when one
// is close by.
func CapText(text string, limit int) (string, bool) {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text, false
	}
	cut := string(runes[:limit])
	if idx := strings.LastIndexByte(cut, ' '); idx > len(cut)*9/10 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut), true
}
