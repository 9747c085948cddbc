// Package model contains the survey records passed between the intake,
// ledger and engine layers.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Framework names the assessment methodology an assessment follows.
type Framework string

// Supported frameworks.
const (
	FrameworkISO10010 Framework = "ISO10010"
	FrameworkAFNOR    Framework = "AFNOR"
	FrameworkPDA      Framework = "PDA"
	FrameworkEFQM     Framework = "EFQM"
	FrameworkBaldrige Framework = "BALDRIGE"
)

// Frameworks lists every supported framework in a stable order.
func Frameworks() []Framework {
	return []Framework{FrameworkISO10010, FrameworkAFNOR, FrameworkPDA, FrameworkEFQM, FrameworkBaldrige}
}

// ParseFramework accepts a framework name case-insensitively.
func ParseFramework(s string) (Framework, error) {
	f := Framework(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Frameworks() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown framework %q", s)
}

// Respondent is an anonymous survey participant. The ID is opaque and never
// linked to identity; demographics are fixed at intake.
type Respondent struct {
	ID           string            `json:"id"`
	Demographics map[string]string `json:"demographics,omitempty"`
	StartedAt    time.Time         `json:"started_at,omitempty"`
}

// Response is one answer to one item. Records are immutable; a correction
// is a new record with a higher Revision for the same key.
type Response struct {
	AssessmentID string    `json:"assessment_id"`
	RespondentID string    `json:"respondent_id"`
	ItemID       string    `json:"item_id"`
	Value        float64   `json:"value"`
	Text         string    `json:"text,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Revision     int       `json:"revision,omitempty"`
}

// Key identifies the (assessment, respondent, item) slot a response fills.
func (r Response) Key() Key {
	return Key{AssessmentID: r.AssessmentID, RespondentID: r.RespondentID, ItemID: r.ItemID}
}

// Key is the ledger key of a response.
type Key struct {
	AssessmentID string
	RespondentID string
	ItemID       string
}

// String returns a compact, unambiguous representation used for dedupe sets.
func (k Key) String() string {
	return k.AssessmentID + "\x1f" + k.RespondentID + "\x1f" + k.ItemID
}

// Assessment is one measurement cycle of an organization, pinned to a
// single item bank version.
type Assessment struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Framework      Framework `json:"framework"`
	Sector         string    `json:"sector,omitempty"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	BankVersion    string    `json:"bank_version"`
}

// Current returns the latest revision of every response slot, sorted by
// respondent then item so aggregation order is canonical. The input is not
// modified.
func Current(rs []Response) []Response {
	latest := make(map[Key]Response, len(rs))
	for _, r := range rs {
		if prev, ok := latest[r.Key()]; ok && prev.Revision >= r.Revision {
			continue
		}
		latest[r.Key()] = r
	}
	out := make([]Response, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AssessmentID != b.AssessmentID {
			return a.AssessmentID < b.AssessmentID
		}
		if a.RespondentID != b.RespondentID {
			return a.RespondentID < b.RespondentID
		}
		return a.ItemID < b.ItemID
	})
	return out
}
