// Package tracker defines the core types and interfaces shared across the roster pipeline.
package tracker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Program identifies one roster site to track. Programs are read from configuration and never mutated.
type Program struct {
	BaseURL      string `json:"base_url" mapstructure:"base_url"`
	PlacementURL string `json:"placement_url" mapstructure:"placement_url"`
	DisplayName  string `json:"display_name" mapstructure:"display_name"`
}

// Site returns the extraction key for the program's roster page.
func (p Program) Site() SiteID {
	return SiteIDFromURL(p.BaseURL)
}

// Snapshot is one capture of a page. Live snapshots were fetched directly instead of from history.
type Snapshot struct {
	URL        string
	CapturedAt Date
	Live       bool
}

// Observation is a single (name, snapshot) sighting produced by extraction.
type Observation struct {
	Name       string
	University string
	Department string
	SourceURL  string
	CapturedAt Date
	Active     bool
}

// PersonSummary is the aggregated presence record for one person across all snapshots of a program.
type PersonSummary struct {
	Name         string   `json:"Name"`
	University   string   `json:"University"`
	Department   string   `json:"Department"`
	URL          string   `json:"URL"`
	StartDate    Date     `json:"Start_Date"`
	EndDate      Date     `json:"End_Date"`
	Years        float64  `json:"Years"`
	Active       bool     `json:"Active"`
	Placement    bool     `json:"Placement"`
	PlacementURL string   `json:"PlacementURL,omitempty"`
	Snapshots    []string `json:"Snapshots"`
}

// FetchResponse is the result of a single fetch attempt.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// DateLayout is the serialized form of capture dates.
const DateLayout = "2006-01-02"

const legacyDateLayout = "2006-01-02 15:04:05"

// Date is a day-granular UTC capture date.
type Date struct {
	time.Time
}

// NewDate truncates t to its UTC calendar day.
func NewDate(t time.Time) Date {
	u := t.UTC()
	return Date{Time: time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts both the current layout and the older timestamp layout.
func ParseDate(raw string) (Date, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{DateLayout, legacyDateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return NewDate(t), nil
		}
	}
	return Date{}, fmt.Errorf("parse date %q", raw)
}

// String renders the date using DateLayout.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// MarshalJSON encodes the date as an ISO calendar date.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes ISO dates and the legacy "YYYY-MM-DD HH:MM:SS" form.
func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode date: %w", err)
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
