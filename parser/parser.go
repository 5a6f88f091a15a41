// Package parser extracts and validates prices from fetched product pages.
//
// Extraction walks a trust ladder: embedded structured product data first,
// then price-ish markup hints, then a currency-prefixed scan over the
// rendered text. Shops without structured data still get a reading; shops
// with it never fall through to the noisier text scan.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhendriks/go-price-tracker/models"
)

// ErrNoPrice is returned when no extraction tier recognizes a price.
var ErrNoPrice = errors.New("no price pattern found")

// priceRe matches a euro-prefixed amount with locale separators.
var priceRe = regexp.MustCompile(`(?i)(?:€|\bEUR)\s*(\d{1,4}(?:[.,]\d{3})*(?:[.,]\d{2})?)`)

// metaHints are markup locations that commonly carry a price, ordered by
// how trustworthy they are.
var metaHints = []struct {
	selector string
	attr     string
}{
	{`meta[property="product:price:amount"]`, "content"},
	{`meta[name="twitter:data1"]`, "content"},
	{`meta[itemprop="price"]`, "content"},
	{`span[itemprop="price"]`, ""},
	{`div[data-price]`, "data-price"},
	{`span[data-price]`, "data-price"},
	{`div[class*="price"]`, ""},
	{`span[class*="price"]`, ""},
}

// Extract finds a candidate price in page content. It returns ErrNoPrice
// when no tier matches; any other error means the content could not be
// parsed at all.
func Extract(body []byte) (models.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return models.Candidate{}, fmt.Errorf("parse html: %w", err)
	}

	if cand, ok := fromStructuredData(doc); ok {
		return cand, nil
	}
	if cand, ok := fromHints(doc); ok {
		return cand, nil
	}
	if cand, ok := fromText(doc); ok {
		return cand, nil
	}
	return models.Candidate{}, ErrNoPrice
}

// DeriveTitle returns the page <title>, or "" when absent.
func DeriveTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func fromStructuredData(doc *goquery.Document) (models.Candidate, bool) {
	var cand models.Candidate
	found := false

	doc.Find(`script[type="application/ld+json"], script[type="application/json"]`).
		EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			dec := json.NewDecoder(strings.NewReader(sel.Text()))
			dec.UseNumber()
			var data interface{}
			if err := dec.Decode(&data); err != nil {
				return true
			}

			items, ok := data.([]interface{})
			if !ok {
				items = []interface{}{data}
			}
			for _, item := range items {
				obj, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				if offers, ok := obj["offers"].(map[string]interface{}); ok {
					raw := offers["price"]
					if raw == nil {
						raw = offers["lowPrice"]
					}
					if price, ok := asMajorUnits(raw); ok {
						cand = models.Candidate{
							Price:    price,
							Currency: stringField(offers, "priceCurrency"),
							Method:   "jsonld",
						}
						found = true
						return false
					}
				}
				if raw, ok := obj["price"]; ok {
					if price, ok := asMajorUnits(raw); ok {
						cand = models.Candidate{
							Price:    price,
							Currency: stringField(obj, "priceCurrency"),
							Method:   "jsonld-root",
						}
						found = true
						return false
					}
				}
			}
			return true
		})

	return cand, found
}

func fromHints(doc *goquery.Document) (models.Candidate, bool) {
	for _, hint := range metaHints {
		sel := doc.Find(hint.selector).First()
		if sel.Length() == 0 {
			continue
		}
		raw := sel.Text()
		if hint.attr != "" {
			raw = sel.AttrOr(hint.attr, "")
		}
		match := priceRe.FindStringSubmatch(strings.TrimSpace(raw))
		if match == nil {
			continue
		}
		if price, err := ParseNumber(match[1]); err == nil {
			return models.Candidate{
				Price:    price,
				Currency: "EUR",
				Method:   "selector:" + hint.selector,
			}, true
		}
	}
	return models.Candidate{}, false
}

// fromText scans the rendered text for the first parseable
// currency-prefixed amount.
func fromText(doc *goquery.Document) (models.Candidate, bool) {
	text := doc.Text()
	for _, match := range priceRe.FindAllStringSubmatch(text, -1) {
		if price, err := ParseNumber(match[1]); err == nil {
			return models.Candidate{
				Price:    price,
				Currency: "EUR",
				Method:   "text-fallback",
			}, true
		}
	}
	return models.Candidate{}, false
}

// asMajorUnits converts a structured-data price field to major currency
// units. Integer-typed values and all-digit strings of 10000 or more are
// treated as a minor-unit (cents) count and divided by 100.
func asMajorUnits(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case json.Number:
		if !strings.ContainsAny(v.String(), ".eE") {
			n, err := v.Int64()
			if err != nil {
				return 0, false
			}
			if n >= 10000 {
				return float64(n) / 100.0, true
			}
			return float64(n), true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		if isDigits(s) {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return 0, false
			}
			if n >= 10000 {
				return float64(n) / 100.0, true
			}
			return float64(n), true
		}
		f, err := ParseNumber(s)
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// ParseNumber parses a numeric string with locale-dependent separators.
// With both separators present the leftmost is the thousands separator;
// a single separator followed by exactly two digits is the decimal
// separator, otherwise it groups thousands.
func ParseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}

	dot := strings.Index(s, ".")
	comma := strings.Index(s, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if dot < comma {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if isDecimalSeparator(s, ",") {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case dot >= 0:
		if !isDecimalSeparator(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	return strconv.ParseFloat(s, 64)
}

func isDecimalSeparator(s, sep string) bool {
	return strings.Count(s, sep) == 1 && len(s)-strings.LastIndex(s, sep)-1 == 2
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func stringField(obj map[string]interface{}, key string) string {
	if v, ok := obj[key].(string); ok && v != "" {
		return v
	}
	return "EUR"
}
