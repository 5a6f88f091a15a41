// Package scraper fetches configured product pages and turns each one
// into a price reading.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/jhendriks/go-price-tracker/config"
	"github.com/jhendriks/go-price-tracker/models"
	"github.com/jhendriks/go-price-tracker/parser"
)

// altHeaders is the fallback header set used when a shop answers a
// blocking status to the default browser profile.
var altHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) " +
		"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
	"Accept":         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Sec-Fetch-Mode": "navigate",
}

// minContentLength guards against truncated or interstitial responses.
const minContentLength = 64

// Runner orchestrates fetch, extraction, and validation for one site per
// call. All failure modes are represented as data on the returned
// reading; Check never fails out of its contract.
type Runner struct {
	cfg       *config.Config
	metrics   *Metrics
	transport http.RoundTripper
}

// NewRunner builds a runner configured from cfg.
func NewRunner(cfg *config.Config, metrics *Metrics) *Runner {
	return &Runner{
		cfg: cfg,
		transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.FetchTimeout(),
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		metrics: metrics,
	}
}

// WithTransport overrides the HTTP transport used for fetches.
func (r *Runner) WithTransport(rt http.RoundTripper) {
	r.transport = rt
}

// Check runs the full pipeline for one configured site and returns a
// reading that is exactly one of success or failure.
func (r *Runner) Check(ctx context.Context, site config.Site) models.Reading {
	log := slog.With(slog.String("site", site.ID))
	reading := models.Reading{
		SiteID: site.ID,
		Title:  site.DisplayName(),
		URL:    site.URL,
		At:     time.Now(),
	}

	if err := ctx.Err(); err != nil {
		reading.Failure = fmt.Sprintf("check aborted: %v", err)
		return reading
	}

	start := time.Now()
	body, status, err := r.fetch(site.URL, site.Headers)
	reading.StatusCode = status

	var blocked ErrBlocked
	if errors.As(err, &blocked) {
		log.Warn("received blocking status, retrying with alternate headers",
			slog.Int("status", blocked.Status),
		)
		r.metrics.IncRetries()
		headers := make(map[string]string, len(altHeaders)+len(site.Headers))
		for k, v := range altHeaders {
			headers[k] = v
		}
		for k, v := range site.Headers {
			headers[k] = v
		}
		body, status, err = r.fetch(site.URL, headers)
		reading.StatusCode = status
	}
	r.metrics.ObserveFetch(time.Since(start))

	if err != nil {
		classified := classifyError(err, status)
		log.Error("fetch failed",
			slog.String("url", site.URL),
			slog.String("category", errorTypeLabel(classified)),
			slog.Any("error", err),
		)
		r.metrics.IncCheck("fetch_error")
		reading.Failure = classified.Error()
		return reading
	}

	if len(body) < minContentLength {
		log.Warn("content too short", slog.Int("bytes", len(body)))
		r.metrics.IncCheck("extraction_failure")
		reading.Failure = fmt.Sprintf("content too short (%d bytes)", len(body))
		return reading
	}

	if title := parser.DeriveTitle(body); title != "" {
		reading.Title = title
	}

	cand, err := parser.Extract(body)
	if err != nil {
		log.Warn("failed to detect a price", slog.Any("error", err))
		r.metrics.IncCheck("extraction_failure")
		reading.Failure = err.Error()
		return reading
	}

	price, rejected := parser.Normalize(cand, site.Divisor(), parser.Bounds{
		Min: r.cfg.MinPrice,
		Max: r.cfg.MaxPrice,
	})
	if rejected != "" {
		log.Warn("price rejected",
			slog.Float64("raw_price", cand.Price),
			slog.Float64("scaled_price", price),
			slog.String("method", cand.Method),
			slog.String("reason", rejected),
		)
		r.metrics.IncCheck("validation_rejection")
		reading.Failure = rejected
		return reading
	}

	method := cand.Method
	if site.PriceDivisor > 0 {
		method = fmt.Sprintf("%s+div%g", method, site.PriceDivisor)
	}

	log.Info("price extracted",
		slog.Float64("price", price),
		slog.String("currency", cand.Currency),
		slog.String("method", method),
		slog.Int("status_code", status),
	)
	r.metrics.IncCheck("ok")

	reading.Price = price
	reading.Currency = cand.Currency
	reading.Method = method
	return reading
}

// fetch retrieves one page with a bounded timeout. A fresh collector per
// call keeps fetches independent and sidesteps colly's visited-URL
// bookkeeping.
func (r *Runner) fetch(rawURL string, headers map[string]string) ([]byte, int, error) {
	c := colly.NewCollector(colly.UserAgent(r.cfg.UserAgent))
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(r.cfg.FetchTimeout())
	if r.transport != nil {
		c.WithTransport(r.transport)
	}

	c.OnRequest(func(req *colly.Request) {
		req.Headers.Set("Accept-Language", "nl-NL,nl;q=0.9,en;q=0.8")
		for k, v := range headers {
			req.Headers.Set(k, v)
		}
	})

	var body []byte
	var status int
	c.OnResponse(func(resp *colly.Response) {
		body = resp.Body
		status = resp.StatusCode
	})
	c.OnError(func(resp *colly.Response, _ error) {
		if resp != nil {
			body = resp.Body
			status = resp.StatusCode
		}
	})

	err := c.Visit(rawURL)
	c.Wait()

	if err == nil && status >= http.StatusBadRequest {
		err = fmt.Errorf("%s", http.StatusText(status))
	}
	if err != nil {
		return nil, status, classifyError(err, status)
	}
	return body, status, nil
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	var blocked ErrBlocked
	var statusErr ErrStatus
	var timeout ErrTimeout
	var conn ErrConnection
	if errors.As(err, &blocked) || errors.As(err, &statusErr) ||
		errors.As(err, &timeout) || errors.As(err, &conn) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden, http.StatusNotAcceptable:
			return ErrBlocked{Status: statusCode, Err: wrapped}
		default:
			if statusCode >= http.StatusBadRequest {
				return ErrStatus{Status: statusCode, Err: wrapped}
			}
		}
	}

	if err == nil {
		return nil
	}
	return err
}
