package synth

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/okian/barometer/internal/domain/itembank"
)

// Respondent behaviours.
const (
	behaviourConsistent   = "consistent"
	behaviourStraightLine = "straight_line"
	behaviourSpeeder      = "speeder"
)

// Answer pacing. Speeders stay well below the default per-item minimum.
const (
	minThinkTime   = 6 * time.Second
	thinkTimeRange = 14 * time.Second
	speederPace    = 1 * time.Second
)

// Spread of answers around a respondent's latent level, in scale fractions.
const (
	respondentSpread = 0.15
	dimensionSpread  = 0.08
	itemNoise        = 0.10
)

var (
	teams = []string{"assembly", "quality", "logistics", "maintenance"}
	roles = []string{"operator", "supervisor", "manager"}
)

// Respondent is the wire form of a respondent registration.
type Respondent struct {
	ID           string            `json:"id"`
	Demographics map[string]string `json:"demographics"`
	StartedAt    string            `json:"started_at"`

	behaviour string
	started   time.Time
}

// Response is the wire form of one answer.
type Response struct {
	RespondentID string  `json:"respondent_id"`
	ItemID       string  `json:"item_id"`
	Value        float64 `json:"value"`
	SubmittedAt  string  `json:"submitted_at"`
}

// Batch is the wire form of one submission.
type Batch struct {
	BatchID   string     `json:"batch_id"`
	Responses []Response `json:"responses"`
}

// Campaign is everything a run submits.
type Campaign struct {
	Respondents []Respondent
	Batches     []Batch
}

// Behaviours counts respondents per behaviour.
func (c Campaign) Behaviours() map[string]int {
	out := make(map[string]int, 3)
	for _, r := range c.Respondents {
		out[r.behaviour]++
	}
	return out
}

// Generator produces deterministic campaigns for a bank.
type Generator struct {
	bank *itembank.Bank
	cfg  *Config
	rng  *rand.Rand
	now  time.Time
}

// NewGenerator creates a generator seeded from cfg.Seed. Timestamps are
// laid out from start.
func NewGenerator(bank *itembank.Bank, cfg *Config, start time.Time) *Generator {
	return &Generator{
		bank: bank,
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		now:  start.UTC(),
	}
}

// Generate builds respondents and their answers, grouped into batches of
// cfg.BatchSize respondents. Batch ids derive from prefix so a rerun of the
// same campaign is recognised as a duplicate.
func (g *Generator) Generate(prefix string) Campaign {
	n := g.cfg.Respondents
	straight := int(math.Round(float64(n) * g.cfg.StraightLine))
	speeders := int(math.Round(float64(n) * g.cfg.Speeders))

	var c Campaign
	c.Respondents = make([]Respondent, n)
	for i := range c.Respondents {
		behaviour := behaviourConsistent
		switch {
		case i < straight:
			behaviour = behaviourStraightLine
		case i < straight+speeders:
			behaviour = behaviourSpeeder
		}
		started := g.now.Add(time.Duration(i) * time.Minute)
		c.Respondents[i] = Respondent{
			ID: fmt.Sprintf("%s-r%05d", prefix, i),
			Demographics: map[string]string{
				"team": teams[g.rng.IntN(len(teams))],
				"role": roles[g.rng.IntN(len(roles))],
			},
			StartedAt: started.Format(time.RFC3339),
			behaviour: behaviour,
			started:   started,
		}
	}
	// Shuffle so behaviours are spread over batches.
	g.rng.Shuffle(len(c.Respondents), func(i, j int) {
		c.Respondents[i], c.Respondents[j] = c.Respondents[j], c.Respondents[i]
	})

	for start := 0; start < n; start += g.cfg.BatchSize {
		end := min(start+g.cfg.BatchSize, n)
		b := Batch{BatchID: fmt.Sprintf("%s-b%05d", prefix, len(c.Batches))}
		for _, r := range c.Respondents[start:end] {
			b.Responses = append(b.Responses, g.answers(r)...)
		}
		c.Batches = append(c.Batches, b)
	}
	return c
}

// answers produces one respondent's answers to every scored item.
func (g *Generator) answers(r Respondent) []Response {
	latent := clamp01(g.cfg.Mean + g.rng.NormFloat64()*respondentSpread)
	dimLevel := make(map[string]float64)
	for _, d := range g.bank.Dimensions() {
		dimLevel[d.ID] = clamp01(latent + g.rng.NormFloat64()*dimensionSpread)
	}
	fixed := g.rng.Float64()

	var out []Response
	at := r.started
	for _, it := range g.bank.Items() {
		var v float64
		switch it.Kind {
		case itembank.KindFreeText:
			continue
		case itembank.KindRecommendation:
			v = g.place(it.Scale, clamp01(latent+g.rng.NormFloat64()*itemNoise))
		default:
			p := clamp01(dimLevel[it.DimensionID] + g.rng.NormFloat64()*itemNoise)
			if r.behaviour == behaviourStraightLine {
				p = fixed
			} else if it.Reverse {
				p = 1 - p
			}
			v = g.place(it.Scale, p)
		}

		if r.behaviour == behaviourSpeeder {
			at = at.Add(speederPace)
		} else {
			at = at.Add(minThinkTime + time.Duration(g.rng.Int64N(int64(thinkTimeRange))))
		}
		out = append(out, Response{
			RespondentID: r.ID,
			ItemID:       it.ID,
			Value:        v,
			SubmittedAt:  at.Format(time.RFC3339),
		})
	}
	return out
}

// place maps a position in [0,1] onto the scale, rounding discrete scales.
func (g *Generator) place(s itembank.Scale, p float64) float64 {
	v := s.Min + p*(s.Max-s.Min)
	if s.Continuous {
		return v
	}
	return math.Min(s.Max, math.Max(s.Min, math.Round(v)))
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
