// Package synth drives a running engine with synthetic survey campaigns:
// it registers an assessment, generates respondents around latent quality
// levels, submits their answers concurrently and reads the results back.
package synth

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when a campaign configuration is unusable.
var ErrInvalidConfig = errors.New("invalid synth config")

// Config holds configuration for a synthetic campaign.
type Config struct {
	BaseURL      string        // Base URL of the service
	BankFile     string        // item bank YAML the assessment is pinned to
	AssessmentID string        // empty lets the service assign one
	Organization string        // organization the assessment belongs to
	Sector       string        // benchmark sector
	Respondents  int           // number of respondents to simulate
	BatchSize    int           // respondents per submitted batch
	Workers      int           // concurrent submitters
	Timeout      time.Duration // HTTP request timeout
	Settle       time.Duration // how long to wait for async screening to drain
	Seed         uint64        // generator seed; equal seeds give equal campaigns
	Mean         float64       // latent quality level in 0..1
	StraightLine float64       // share of respondents who give one answer throughout
	Speeders     float64       // share of respondents who answer too fast
	Plan         bool          // plan improvement actions after scoring
	OutputFile   string        // optional JSON dump of the generated batches
	Verbose      bool          // log every batch
}

// Validate checks the campaign configuration.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.BankFile == "":
		return fmt.Errorf("%w: bank file is required", ErrInvalidConfig)
	case c.Organization == "":
		return fmt.Errorf("%w: organization is required", ErrInvalidConfig)
	case c.Respondents < 1:
		return fmt.Errorf("%w: respondents must be positive", ErrInvalidConfig)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.Mean < 0 || c.Mean > 1:
		return fmt.Errorf("%w: mean must be within 0..1", ErrInvalidConfig)
	case c.StraightLine < 0 || c.Speeders < 0 || c.StraightLine+c.Speeders > 1:
		return fmt.Errorf("%w: straight-line and speeder shares must be within 0..1", ErrInvalidConfig)
	}
	return nil
}

// Stats holds campaign statistics.
type Stats struct {
	Respondents      int
	BatchesGenerated int
	ResponsesSent    int
	BatchesAccepted  int
	BatchesDuplicate int
	BatchesThrottled int
	BatchesFailed    int
	ResponsesStored  int
	Rejections       int
	Overall          *float64
	ReliableDims     int
	ActionsPlanned   int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
