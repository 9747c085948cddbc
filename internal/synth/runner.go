package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/psychometrics"
	"github.com/okian/barometer/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0o750
	filePermission      = 0o600
)

const pollInterval = 100 * time.Millisecond

// Run executes a complete campaign against the service.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("synth")
	stats := &Stats{StartTime: time.Now()}

	bank, err := itembank.Load(ctx, cfg.BankFile)
	if err != nil {
		return nil, err
	}
	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting synthetic campaign",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("bankVersion", bank.Version()),
		logger.Int("respondents", cfg.Respondents),
		logger.Int("workers", cfg.Workers),
		logger.Bool("plan", cfg.Plan))

	if err := checkServiceHealth(ctx, client); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	assessmentID, err := createAssessment(ctx, client, cfg, bank)
	if err != nil {
		return nil, fmt.Errorf("assessment registration failed: %w", err)
	}
	baseline, err := storedResponses(ctx, client)
	if err != nil {
		return nil, err
	}

	campaign := NewGenerator(bank, cfg, stats.StartTime).Generate(assessmentID)
	stats.Respondents = len(campaign.Respondents)
	stats.BatchesGenerated = len(campaign.Batches)
	log.Info(ctx, "generated campaign", logger.Any("behaviours", campaign.Behaviours()))

	status, body, err := client.Post(ctx, "/assessments/"+assessmentID+"/respondents",
		map[string]any{"respondents": campaign.Respondents})
	if err != nil {
		return nil, err
	}
	if err := expect(status, body, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("respondent registration failed: %w", err)
	}

	submitBatches(ctx, client, cfg, assessmentID, campaign.Batches, stats)
	if stats.BatchesAccepted == 0 && stats.BatchesDuplicate == 0 {
		return stats, errors.New("no batch was accepted")
	}

	stored, err := waitForIngest(ctx, client, baseline, cfg.Settle)
	if err != nil {
		return stats, err
	}
	stats.ResponsesStored = stored - baseline

	if err := collectResults(ctx, client, assessmentID, stats); err != nil {
		return stats, err
	}
	if cfg.Plan {
		if err := planActions(ctx, client, assessmentID, stats); err != nil {
			return stats, err
		}
	}

	if cfg.OutputFile != "" {
		if err := saveCampaign(ctx, cfg.OutputFile, campaign); err != nil {
			log.Warn(ctx, "failed to save campaign to file", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	status, body, err := client.Get(ctx, "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	return expect(status, body, http.StatusOK)
}

func createAssessment(ctx context.Context, client *HTTPClient, cfg *Config, bank *itembank.Bank) (string, error) {
	start := time.Now().UTC()
	status, body, err := client.Post(ctx, "/assessments", map[string]any{
		"id":              cfg.AssessmentID,
		"organization_id": cfg.Organization,
		"framework":       string(bank.Framework()),
		"sector":          cfg.Sector,
		"window_start":    start.Format(time.RFC3339),
		"window_end":      start.Add(30 * 24 * time.Hour).Format(time.RFC3339),
		"bank_version":    bank.Version(),
	})
	if err != nil {
		return "", err
	}
	if err := expect(status, body, http.StatusCreated); err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return "", errors.New("service returned no assessment id")
	}
	return id, nil
}

func storedResponses(ctx context.Context, client *HTTPClient) (int, error) {
	status, body, err := client.Get(ctx, "/stats")
	if err != nil {
		return 0, err
	}
	if err := expect(status, body, http.StatusOK); err != nil {
		return 0, err
	}
	return int(gjson.GetBytes(body, "responses").Int()), nil
}

// waitForIngest polls the stored response count until the queue is empty
// and the count has stopped moving, or settle elapses.
func waitForIngest(ctx context.Context, client *HTTPClient, baseline int, settle time.Duration) (int, error) {
	deadline := time.Now().Add(settle)
	last, stable := -1, 0
	for {
		status, body, err := client.Get(ctx, "/stats")
		if err != nil {
			return 0, err
		}
		if err := expect(status, body, http.StatusOK); err != nil {
			return 0, err
		}
		n := int(gjson.GetBytes(body, "responses").Int())
		if gjson.GetBytes(body, "queueLength").Int() == 0 && n == last && n > baseline {
			stable++
			if stable >= 2 {
				return n, nil
			}
		} else {
			stable = 0
		}
		last = n
		if time.Now().After(deadline) {
			return n, nil
		}
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// collectResults reads the scores, validation and rejection trail.
func collectResults(ctx context.Context, client *HTTPClient, assessmentID string, stats *Stats) error {
	base := "/assessments/" + assessmentID

	status, body, err := client.Get(ctx, base+"/scores")
	if err != nil {
		return err
	}
	if err := expect(status, body, http.StatusOK); err != nil {
		return fmt.Errorf("scores: %w", err)
	}
	if overall := gjson.GetBytes(body, "overall"); overall.Exists() && overall.Type == gjson.Number {
		v := overall.Float()
		stats.Overall = &v
	}

	status, body, err = client.Get(ctx, base+"/validation")
	if err != nil {
		return err
	}
	if err := expect(status, body, http.StatusOK); err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	gjson.GetBytes(body, "dimensions").ForEach(func(_, d gjson.Result) bool {
		if d.Get("status").String() == string(psychometrics.Reliable) {
			stats.ReliableDims++
		}
		return true
	})

	status, body, err = client.Get(ctx, base+"/rejections")
	if err != nil {
		return err
	}
	if err := expect(status, body, http.StatusOK); err != nil {
		return fmt.Errorf("rejections: %w", err)
	}
	stats.Rejections = int(gjson.GetBytes(body, "issues.#").Int())
	return nil
}

func planActions(ctx context.Context, client *HTTPClient, assessmentID string, stats *Stats) error {
	status, body, err := client.Post(ctx, "/assessments/"+assessmentID+"/plan", nil)
	if err != nil {
		return err
	}
	if err := expect(status, body, http.StatusCreated); err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	stats.ActionsPlanned = int(gjson.ParseBytes(body).Get("#").Int())
	return nil
}

// saveCampaign writes the generated respondents and batches as JSON.
func saveCampaign(ctx context.Context, filename string, c Campaign) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(map[string]any{
		"respondents": c.Respondents,
		"batches":     c.Batches,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal campaign: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write campaign: %w", err)
	}
	logger.Get().Info(ctx, "campaign saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final campaign statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	overall := -1.0
	if stats.Overall != nil {
		overall = *stats.Overall
	}
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.ResponsesSent) / stats.Duration.Seconds()
	}
	logger.Get().Info(ctx, "final statistics",
		logger.Int("respondents", stats.Respondents),
		logger.Int("batchesGenerated", stats.BatchesGenerated),
		logger.Int("responsesSent", stats.ResponsesSent),
		logger.Int("responsesStored", stats.ResponsesStored),
		logger.Int("batchesAccepted", stats.BatchesAccepted),
		logger.Int("batchesDuplicate", stats.BatchesDuplicate),
		logger.Int("batchesThrottled", stats.BatchesThrottled),
		logger.Int("batchesFailed", stats.BatchesFailed),
		logger.Int("rejections", stats.Rejections),
		logger.Int("reliableDimensions", stats.ReliableDims),
		logger.Int("actionsPlanned", stats.ActionsPlanned),
		logger.Float64("overall", overall),
		logger.Duration("duration", stats.Duration),
		logger.Float64("responsesPerSecond", perSecond))
}
