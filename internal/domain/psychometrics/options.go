package psychometrics

import "fmt"

// Config holds the reliability gate thresholds.
type Config struct {
	AlphaThreshold  float64 `koanf:"alpha_threshold" json:"alpha_threshold"`
	AVEThreshold    float64 `koanf:"ave_threshold" json:"ave_threshold"`
	MinRespondents  int     `koanf:"min_respondents" json:"min_respondents"`
	DiscriminantMax float64 `koanf:"discriminant_max" json:"discriminant_max"`
}

// DefaultConfig returns α ≥ 0.7, AVE ≥ 0.5, 30 respondents and |r| < 0.85.
func DefaultConfig() Config {
	return Config{
		AlphaThreshold:  0.7,
		AVEThreshold:    0.5,
		MinRespondents:  30,
		DiscriminantMax: 0.85,
	}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	if c.AlphaThreshold <= 0 || c.AlphaThreshold > 1 {
		return fmt.Errorf("%w: alpha_threshold %v must be in (0,1]", ErrInvalidConfig, c.AlphaThreshold)
	}
	if c.AVEThreshold <= 0 || c.AVEThreshold > 1 {
		return fmt.Errorf("%w: ave_threshold %v must be in (0,1]", ErrInvalidConfig, c.AVEThreshold)
	}
	if c.MinRespondents < 2 {
		return fmt.Errorf("%w: min_respondents %d must be at least 2", ErrInvalidConfig, c.MinRespondents)
	}
	if c.DiscriminantMax <= 0 || c.DiscriminantMax > 1 {
		return fmt.Errorf("%w: discriminant_max %v must be in (0,1]", ErrInvalidConfig, c.DiscriminantMax)
	}
	return nil
}
