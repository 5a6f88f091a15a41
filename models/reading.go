// Package models defines data structures for the price tracker.
package models

import "time"

// Candidate is a raw price extracted from page content, before scaling
// and validation.
type Candidate struct {
	Price    float64
	Currency string
	Method   string
}

// Reading is the outcome of one site check in a sweep. A reading is
// exactly one of success or failure: Failure is empty iff Price holds a
// validated value. Readings are immutable once built and are consumed by
// the publisher in the same cycle.
type Reading struct {
	SiteID     string    `json:"site_id"`
	Title      string    `json:"title,omitempty"`
	URL        string    `json:"url"`
	Price      float64   `json:"price"`
	Currency   string    `json:"currency,omitempty"`
	Method     string    `json:"method,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Failure    string    `json:"failure,omitempty"`
	At         time.Time `json:"at"`
}

// OK reports whether the reading carries a validated price.
func (r Reading) OK() bool {
	return r.Failure == ""
}

// SweepResult summarizes one full pass over the configured sites.
type SweepResult struct {
	Trigger   string
	StartTime time.Time
	EndTime   time.Time
	Readings  []Reading
}

// Failures returns the readings that did not produce a price.
func (s SweepResult) Failures() []Reading {
	var out []Reading
	for _, r := range s.Readings {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}
