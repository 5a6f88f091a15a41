package parser

import (
	"errors"
	"math"
	"testing"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "129,95", want: 129.95},
		{in: "129.95", want: 129.95},
		{in: "1.299,95", want: 1299.95},
		{in: "1,299.95", want: 1299.95},
		{in: "1.299", want: 1299},
		{in: "1,299", want: 1299},
		{in: "1299", want: 1299},
		{in: "1 299,95", want: 1299.95},
		{in: "12.995,00", want: 12995},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseNumber(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseNumber(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseNumber(%q): %v", tt.in, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("ParseNumber(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractStructuredData(t *testing.T) {
	html := `<html><head>
<script type="application/ld+json">
{"@type":"Product","name":"Espresso Machine","offers":{"price":"1299,95","priceCurrency":"EUR"}}
</script>
</head><body><span class="price">€ 9,99</span></body></html>`

	cand, err := Extract([]byte(html))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if cand.Method != "jsonld" {
		t.Fatalf("method = %q, want jsonld", cand.Method)
	}
	if cand.Price != 1299.95 {
		t.Fatalf("price = %v, want 1299.95", cand.Price)
	}
	if cand.Currency != "EUR" {
		t.Fatalf("currency = %q, want EUR", cand.Currency)
	}
}

func TestExtractMinorUnitHeuristic(t *testing.T) {
	tests := []struct {
		name string
		html string
		want float64
	}{
		{
			name: "integer cents",
			html: `<script type="application/ld+json">{"offers":{"price":12995}}</script>`,
			want: 129.95,
		},
		{
			name: "digit string cents",
			html: `<script type="application/ld+json">{"offers":{"price":"12995"}}</script>`,
			want: 129.95,
		},
		{
			name: "small integer untouched",
			html: `<script type="application/ld+json">{"offers":{"price":1299}}</script>`,
			want: 1299,
		},
		{
			name: "decimal untouched",
			html: `<script type="application/ld+json">{"offers":{"price":12995.0}}</script>`,
			want: 12995,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand, err := Extract([]byte(tt.html))
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if cand.Price != tt.want {
				t.Fatalf("price = %v, want %v", cand.Price, tt.want)
			}
		})
	}
}

func TestExtractRootPrice(t *testing.T) {
	html := `<script type="application/json">{"price":"129,95","priceCurrency":"EUR"}</script>`

	cand, err := Extract([]byte(html))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if cand.Method != "jsonld-root" {
		t.Fatalf("method = %q, want jsonld-root", cand.Method)
	}
	if cand.Price != 129.95 {
		t.Fatalf("price = %v, want 129.95", cand.Price)
	}
}

func TestExtractMetaHint(t *testing.T) {
	html := `<html><head>
<meta property="product:price:amount" content="€ 249,00" />
</head><body>some product</body></html>`

	cand, err := Extract([]byte(html))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if cand.Method != `selector:meta[property="product:price:amount"]` {
		t.Fatalf("method = %q", cand.Method)
	}
	if cand.Price != 249 {
		t.Fatalf("price = %v, want 249", cand.Price)
	}
}

func TestExtractTextFallbackFirstMatch(t *testing.T) {
	html := `<html><body>
<p>Now available for €129,95 instead of €199,95.</p>
</body></html>`

	cand, err := Extract([]byte(html))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if cand.Method != "text-fallback" {
		t.Fatalf("method = %q, want text-fallback", cand.Method)
	}
	if cand.Price != 129.95 {
		t.Fatalf("price = %v, want first match 129.95", cand.Price)
	}
}

func TestExtractStructuredDataWins(t *testing.T) {
	html := `<html><head>
<script type="application/ld+json">{"offers":{"price":"89,00"}}</script>
</head><body><p>Shipping from €4,95. Sale price €59,00!</p></body></html>`

	cand, err := Extract([]byte(html))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if cand.Method != "jsonld" {
		t.Fatalf("method = %q, want jsonld", cand.Method)
	}
	if cand.Price != 89 {
		t.Fatalf("price = %v, want 89", cand.Price)
	}
}

func TestExtractNoPrice(t *testing.T) {
	html := `<html><body><p>Out of stock, check back later.</p></body></html>`

	_, err := Extract([]byte(html))
	if !errors.Is(err, ErrNoPrice) {
		t.Fatalf("err = %v, want ErrNoPrice", err)
	}
}

func TestDeriveTitle(t *testing.T) {
	html := `<html><head><title>  Espresso Machine - Shop  </title></head><body></body></html>`
	if got := DeriveTitle([]byte(html)); got != "Espresso Machine - Shop" {
		t.Fatalf("title = %q", got)
	}
	if got := DeriveTitle([]byte("<html><body></body></html>")); got != "" {
		t.Fatalf("title = %q, want empty", got)
	}
}
