package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownReceiver is returned when a receiver has no policy entry
	ErrUnknownReceiver = errors.New("unknown receiver")

	// ErrInvalidPolicy is returned when a policy file fails validation
	ErrInvalidPolicy = errors.New("invalid reduction policy")
)

// Receiver describes one front end and its peak prominence
type Receiver struct {
	Name       string   `yaml:"name" validate:"required"`
	Label      string   `yaml:"label"`
	Prominence float64  `yaml:"prominence" validate:"gte=0"`
	Aliases    []string `yaml:"aliases" validate:"dive,required"`
}

// TierSpec sizes one view level.
// The effective budget is the larger of Budget and Fraction of the scope size.
type TierSpec struct {
	Name     string  `yaml:"name" validate:"required"`
	Budget   int     `yaml:"budget" validate:"gte=0"`
	Fraction float64 `yaml:"fraction" validate:"gte=0,lte=1"`
}

// ResolveBudget returns the point budget for a scope of total samples
func (t TierSpec) ResolveBudget(total int) int {
	budget := t.Budget
	if frac := int(t.Fraction * float64(total)); frac > budget {
		budget = frac
	}
	if budget < 1 {
		budget = 1
	}
	return budget
}

// Policy holds the reduction settings loaded at startup
type Policy struct {
	Receivers []Receiver `yaml:"receivers" validate:"required,min=1,dive"`
	Tiers     []TierSpec `yaml:"tiers" validate:"required,min=1,max=8,dive"`

	// DensityBounds are descending density ratio thresholds, one per tier.
	// A ratio at or above DensityBounds[i] selects tier i; below the last bound
	// the exact slice is served.
	DensityBounds []float64 `yaml:"density_bounds" validate:"required,dive,gt=0"`

	ThresholdMultiplier float64 `yaml:"threshold_multiplier" validate:"gt=0"`
	Strategy            string  `yaml:"strategy" validate:"oneof=stride peaks mean prominence"`
	PixelWidth          int     `yaml:"pixel_width" validate:"gt=0"`
	PadFraction         float64 `yaml:"pad_fraction" validate:"gte=0,lte=4"`

	MaxQueryRows    int `yaml:"max_query_rows" validate:"gt=0"`
	MaxPointsToPlot int `yaml:"max_points_to_plot" validate:"gt=0"`
	MaxSpanDays     int `yaml:"max_span_days" validate:"gt=0"`

	byName map[string]*Receiver
}

// DefaultPolicy returns the Green Bank receiver table and four view levels
func DefaultPolicy() *Policy {
	p := &Policy{
		Receivers: []Receiver{
			{Name: "RcvrPF_1", Label: "PF1", Prominence: 0.05, Aliases: []string{"Prime Focus 1", "Rcvr_800"}},
			{Name: "Prime Focus 2", Label: "PF2", Prominence: 0.001},
			{Name: "Rcvr1_2", Label: "L-Band", Prominence: 0.03},
			{Name: "Rcvr2_3", Label: "S-Band", Prominence: 0.001},
			{Name: "Rcvr4_6", Label: "C-Band", Prominence: 0.001},
			{Name: "Rcvr8_10", Label: "X-Band", Prominence: 0.001},
			{Name: "Rcvr12_18", Label: "Ku-Band", Prominence: 0.001},
			{Name: "RcvrArray18_26", Label: "KFPA", Prominence: 0.001},
			{Name: "Rcvr26_40", Label: "Ka-Band", Prominence: 0.001},
			{Name: "Rcvr40_52", Label: "Q-Band", Prominence: 0.0001},
		},
		Tiers: []TierSpec{
			{Name: "view_level_0", Budget: 1250},
			{Name: "view_level_1", Fraction: 0.009},
			{Name: "view_level_2", Fraction: 0.04},
			{Name: "view_level_3", Fraction: 0.10},
		},
		DensityBounds:       []float64{400, 100, 40, 16},
		ThresholdMultiplier: DefaultThresholdMultiplier,
		Strategy:            "peaks",
		PixelWidth:          DefaultPixelWidth,
		PadFraction:         DefaultPadFraction,
		MaxQueryRows:        MaxQueryRows,
		MaxPointsToPlot:     MaxPointsToPlot,
		MaxSpanDays:         int(MaxQuerySpan.Hours() / 24),
	}
	p.index()
	return p
}

// LoadPolicy reads a YAML policy file. Unset fields keep their defaults.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a YAML policy document
func ParsePolicy(data []byte) (*Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.index()
	return p, nil
}

// Validate checks field constraints and cross-field rules
func (p *Policy) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	if len(p.DensityBounds) != len(p.Tiers) {
		return fmt.Errorf("%w: %d density bounds for %d tiers", ErrInvalidPolicy, len(p.DensityBounds), len(p.Tiers))
	}
	for i := 1; i < len(p.DensityBounds); i++ {
		if p.DensityBounds[i] >= p.DensityBounds[i-1] {
			return fmt.Errorf("%w: density bounds must be strictly descending", ErrInvalidPolicy)
		}
	}
	for _, t := range p.Tiers {
		if t.Budget == 0 && t.Fraction == 0 {
			return fmt.Errorf("%w: tier %q needs a budget or a fraction", ErrInvalidPolicy, t.Name)
		}
	}

	seen := make(map[string]bool)
	for _, r := range p.Receivers {
		for _, name := range append([]string{r.Name}, r.Aliases...) {
			if seen[name] {
				return fmt.Errorf("%w: receiver %q listed twice", ErrInvalidPolicy, name)
			}
			seen[name] = true
		}
	}
	return nil
}

func (p *Policy) index() {
	p.byName = make(map[string]*Receiver)
	for i := range p.Receivers {
		r := &p.Receivers[i]
		p.byName[r.Name] = r
		for _, alias := range r.Aliases {
			p.byName[alias] = r
		}
	}
}

func (p *Policy) lookup(name string) (*Receiver, error) {
	if p.byName == nil {
		p.index()
	}
	r, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReceiver, name)
	}
	return r, nil
}

// Prominence returns the peak prominence for a receiver or one of its aliases
func (p *Policy) Prominence(name string) (float64, error) {
	r, err := p.lookup(name)
	if err != nil {
		return 0, err
	}
	return r.Prominence, nil
}

// MinProminence returns the smallest prominence across receivers
func (p *Policy) MinProminence(names []string) (float64, error) {
	if len(names) == 0 {
		return 0, fmt.Errorf("%w: no receivers given", ErrUnknownReceiver)
	}
	min := -1.0
	for _, name := range names {
		prom, err := p.Prominence(name)
		if err != nil {
			return 0, err
		}
		if min < 0 || prom < min {
			min = prom
		}
	}
	return min, nil
}

// Expand returns the receivers plus their aliases, deduplicated and sorted
func (p *Policy) Expand(names []string) ([]string, error) {
	set := make(map[string]bool)
	for _, name := range names {
		r, err := p.lookup(name)
		if err != nil {
			return nil, err
		}
		set[name] = true
		if r.Name == name {
			for _, alias := range r.Aliases {
				set[alias] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Label returns the display label of a receiver, or the name when unset
func (p *Policy) Label(name string) string {
	r, err := p.lookup(name)
	if err != nil || r.Label == "" {
		return name
	}
	return r.Label
}

// CoversReceivers fails when any of names has no policy entry
func (p *Policy) CoversReceivers(names []string) error {
	var missing []string
	for _, name := range names {
		if _, err := p.lookup(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: policy does not cover %v", ErrUnknownReceiver, missing)
	}
	return nil
}
