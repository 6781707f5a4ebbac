package scrape

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// Document parses an UTF-8 HTML body.
func Document(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Title returns the squashed text of the document <title>.
func Title(doc *goquery.Document) string {
	return SquashSpace(doc.Find("title").First().Text())
}

// TableRows returns the trimmed cell texts of every row matched by
// selector, e.g. "#mdbrec table tr.row_hover_bg". Rows without cells
// are skipped.
func TableRows(doc *goquery.Document, selector string) [][]string {
	var rows [][]string
	doc.Find(selector).Each(func(_ int, tr *goquery.Selection) {
		var row []string
		tr.Find("td, th").Each(func(_ int, td *goquery.Selection) {
			row = append(row, SquashSpace(td.Text()))
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})
	return rows
}

// Attrs returns attribute attr of every element matched by selector,
// skipping elements that do not carry it.
func Attrs(doc *goquery.Document, selector, attr string) []string {
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(attr); ok {
			out = append(out, v)
		}
	})
	return out
}
