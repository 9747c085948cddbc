// Package itembank holds the typed, versioned definitions of dimensions and
// items an assessment is pinned to.
//
// A Bank is validated once when it is built and is read-only afterwards, so
// concurrent assessments may share snapshots without coordination.
package itembank

import (
	"fmt"
	"math"
	"sort"

	"github.com/okian/barometer/internal/domain/model"
)

// Weight sums must equal 1.0 within this tolerance.
const weightTolerance = 1e-6

// Recommendation items always use the 0..10 scale.
const (
	recommendationMin = 0
	recommendationMax = 10
)

const defaultMinItems = 2

// Kind separates scored Likert items from recommendation and free-text items.
type Kind string

// Item kinds.
const (
	KindLikert         Kind = "likert"
	KindRecommendation Kind = "recommendation"
	KindFreeText       Kind = "free_text"
)

// Perspective marks an item as part of the individual or organizational
// view of the same behaviour.
type Perspective string

// Perspectives. The empty value means the item is not part of a pair.
const (
	PerspectiveNone           Perspective = ""
	PerspectiveIndividual     Perspective = "individual"
	PerspectiveOrganizational Perspective = "organizational"
)

// Scale is the response domain of an item.
type Scale struct {
	Min float64 `koanf:"min" json:"min"`
	Max float64 `koanf:"max" json:"max"`
	// Continuous scales accept any real value in [Min,Max] (visual cursor).
	Continuous bool `koanf:"continuous" json:"continuous,omitempty"`
}

// Contains reports whether v is a valid raw value for the scale.
func (s Scale) Contains(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	if v < s.Min || v > s.Max {
		return false
	}
	return s.Continuous || v == math.Trunc(v)
}

// CursorValue maps a cursor position p in [0,1] linearly onto the scale.
// No rounding is applied; cursor items must be declared Continuous.
func CursorValue(s Scale, p float64) (float64, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("cursor position %v outside [0,1]", p)
	}
	return s.Min + p*(s.Max-s.Min), nil
}

// Dimension is a weighted group of items.
type Dimension struct {
	ID       string  `koanf:"id" json:"id"`
	Name     string  `koanf:"name" json:"name"`
	Weight   float64 `koanf:"weight" json:"weight"`
	MinItems int     `koanf:"min_items" json:"min_items"`
}

// Item is a single survey question.
type Item struct {
	ID          string      `koanf:"id" json:"id"`
	DimensionID string      `koanf:"dimension" json:"dimension,omitempty"`
	Theme       string      `koanf:"theme" json:"theme,omitempty"`
	Text        string      `koanf:"text" json:"text,omitempty"`
	Kind        Kind        `koanf:"kind" json:"kind"`
	Scale       Scale       `koanf:"scale" json:"scale"`
	Reverse     bool        `koanf:"reverse" json:"reverse,omitempty"`
	Perspective Perspective `koanf:"perspective" json:"perspective,omitempty"`
	MirrorOf    string      `koanf:"mirror_of" json:"mirror_of,omitempty"`
}

// Remap returns the value used for aggregation: reverse-scored items are
// mirrored as Max+Min-v.
func (it Item) Remap(v float64) float64 {
	if it.Reverse {
		return it.Scale.Max + it.Scale.Min - v
	}
	return v
}

// Score rescales a raw value onto 0..100 after remapping.
func (it Item) Score(v float64) float64 {
	return (it.Remap(v) - it.Scale.Min) / (it.Scale.Max - it.Scale.Min) * 100
}

// Bank is an immutable item-bank snapshot.
type Bank struct {
	version    string
	framework  model.Framework
	dimensions []Dimension
	items      []Item

	dimIndex  map[string]int
	itemIndex map[string]int
	byDim     map[string][]string
}

// New validates the definitions and returns a snapshot. Slices are copied
// so later changes by the caller do not leak into the snapshot.
func New(version string, framework model.Framework, dims []Dimension, items []Item) (*Bank, error) {
	b := &Bank{
		version:    version,
		framework:  framework,
		dimensions: append([]Dimension(nil), dims...),
		items:      append([]Item(nil), items...),
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bank) validate() error {
	if b.version == "" {
		return fmt.Errorf("%w: version must not be empty", ErrInvalidBank)
	}
	if len(b.dimensions) == 0 {
		return fmt.Errorf("%w: at least one dimension is required", ErrInvalidBank)
	}

	b.dimIndex = make(map[string]int, len(b.dimensions))
	var total float64
	for i := range b.dimensions {
		d := &b.dimensions[i]
		if d.ID == "" {
			return fmt.Errorf("%w: dimension %d has no id", ErrInvalidBank, i)
		}
		if _, dup := b.dimIndex[d.ID]; dup {
			return fmt.Errorf("%w: duplicate dimension %q", ErrInvalidBank, d.ID)
		}
		if d.Weight <= 0 || math.IsNaN(d.Weight) || math.IsInf(d.Weight, 0) {
			return fmt.Errorf("%w: dimension %q weight must be positive", ErrInvalidBank, d.ID)
		}
		if d.MinItems == 0 {
			d.MinItems = defaultMinItems
		}
		if d.MinItems < defaultMinItems {
			return fmt.Errorf("%w: dimension %q min_items must be at least %d", ErrInvalidBank, d.ID, defaultMinItems)
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		b.dimIndex[d.ID] = i
		total += d.Weight
	}
	if math.Abs(total-1) > weightTolerance {
		return fmt.Errorf("%w: dimension weights sum to %.6f, want 1.0", ErrInvalidBank, total)
	}

	b.itemIndex = make(map[string]int, len(b.items))
	b.byDim = make(map[string][]string, len(b.dimensions))
	for i := range b.items {
		it := &b.items[i]
		if it.ID == "" {
			return fmt.Errorf("%w: item %d has no id", ErrInvalidBank, i)
		}
		if _, dup := b.itemIndex[it.ID]; dup {
			return fmt.Errorf("%w: duplicate item %q", ErrInvalidBank, it.ID)
		}
		if it.Kind == "" {
			it.Kind = KindLikert
		}
		if err := b.validateItem(it); err != nil {
			return err
		}
		b.itemIndex[it.ID] = i
		if it.DimensionID != "" {
			b.byDim[it.DimensionID] = append(b.byDim[it.DimensionID], it.ID)
		}
	}

	// Mirror pairs are checked once every item is indexed.
	for _, it := range b.items {
		if it.MirrorOf == "" {
			continue
		}
		j, ok := b.itemIndex[it.MirrorOf]
		if !ok {
			return fmt.Errorf("%w: item %q mirrors unknown item %q", ErrInvalidBank, it.ID, it.MirrorOf)
		}
		other := b.items[j]
		if other.DimensionID != it.DimensionID {
			return fmt.Errorf("%w: item %q mirrors %q across dimensions", ErrInvalidBank, it.ID, other.ID)
		}
		if other.Perspective == it.Perspective || other.Perspective == PerspectiveNone {
			return fmt.Errorf("%w: item %q and its mirror %q need opposite perspectives", ErrInvalidBank, it.ID, other.ID)
		}
	}

	for _, ids := range b.byDim {
		sort.Strings(ids)
	}
	return nil
}

func (b *Bank) validateItem(it *Item) error {
	switch it.Kind {
	case KindLikert:
		if _, ok := b.dimIndex[it.DimensionID]; !ok {
			return fmt.Errorf("%w: item %q references unknown dimension %q", ErrInvalidBank, it.ID, it.DimensionID)
		}
		if err := validateScale(it.ID, it.Scale); err != nil {
			return err
		}
	case KindRecommendation:
		if it.Scale == (Scale{}) {
			it.Scale = Scale{Min: recommendationMin, Max: recommendationMax}
		}
		if it.Scale.Min != recommendationMin || it.Scale.Max != recommendationMax || it.Scale.Continuous {
			return fmt.Errorf("%w: recommendation item %q must use the discrete 0..10 scale", ErrInvalidBank, it.ID)
		}
		if it.Reverse {
			return fmt.Errorf("%w: recommendation item %q cannot be reverse scored", ErrInvalidBank, it.ID)
		}
	case KindFreeText:
		if it.Reverse || it.Perspective != PerspectiveNone {
			return fmt.Errorf("%w: free-text item %q cannot be reversed or paired", ErrInvalidBank, it.ID)
		}
	default:
		return fmt.Errorf("%w: item %q has unknown kind %q", ErrInvalidBank, it.ID, it.Kind)
	}

	if it.DimensionID != "" {
		if _, ok := b.dimIndex[it.DimensionID]; !ok {
			return fmt.Errorf("%w: item %q references unknown dimension %q", ErrInvalidBank, it.ID, it.DimensionID)
		}
	}

	switch it.Perspective {
	case PerspectiveNone:
		if it.MirrorOf != "" {
			return fmt.Errorf("%w: item %q mirrors %q without a perspective", ErrInvalidBank, it.ID, it.MirrorOf)
		}
	case PerspectiveIndividual, PerspectiveOrganizational:
		if it.Kind != KindLikert {
			return fmt.Errorf("%w: only likert items take a perspective, item %q", ErrInvalidBank, it.ID)
		}
	default:
		return fmt.Errorf("%w: item %q has unknown perspective %q", ErrInvalidBank, it.ID, it.Perspective)
	}
	return nil
}

func validateScale(id string, s Scale) error {
	if math.IsNaN(s.Min) || math.IsNaN(s.Max) || math.IsInf(s.Min, 0) || math.IsInf(s.Max, 0) {
		return fmt.Errorf("%w: item %q scale bounds must be finite", ErrInvalidBank, id)
	}
	if s.Min >= s.Max {
		return fmt.Errorf("%w: item %q scale min %v must be below max %v", ErrInvalidBank, id, s.Min, s.Max)
	}
	if !s.Continuous && (s.Min != math.Trunc(s.Min) || s.Max != math.Trunc(s.Max)) {
		return fmt.Errorf("%w: item %q discrete scale needs integer bounds", ErrInvalidBank, id)
	}
	return nil
}

// Version returns the snapshot version.
func (b *Bank) Version() string { return b.version }

// Framework returns the framework the bank was authored for.
func (b *Bank) Framework() model.Framework { return b.framework }

// Dimensions returns the dimensions in declaration order.
func (b *Bank) Dimensions() []Dimension { return append([]Dimension(nil), b.dimensions...) }

// Items returns all items in declaration order.
func (b *Bank) Items() []Item { return append([]Item(nil), b.items...) }

// Item looks up an item by id.
func (b *Bank) Item(id string) (Item, bool) {
	i, ok := b.itemIndex[id]
	if !ok {
		return Item{}, false
	}
	return b.items[i], true
}

// Dimension looks up a dimension by id.
func (b *Bank) Dimension(id string) (Dimension, bool) {
	i, ok := b.dimIndex[id]
	if !ok {
		return Dimension{}, false
	}
	return b.dimensions[i], true
}

// LikertItems returns the scored items of a dimension sorted by id.
func (b *Bank) LikertItems(dimensionID string) []Item {
	var out []Item
	for _, id := range b.byDim[dimensionID] {
		it := b.items[b.itemIndex[id]]
		if it.Kind == KindLikert {
			out = append(out, it)
		}
	}
	return out
}

// RecommendationItems returns the 0..10 items feeding NPQS, sorted by id.
func (b *Bank) RecommendationItems() []Item {
	var out []Item
	for _, it := range b.items {
		if it.Kind == KindRecommendation {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
