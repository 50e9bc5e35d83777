package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// InstrumentSet is the trigger-order plan loaded from INSTRUMENTS_FILE.
type InstrumentSet struct {
	OrderNotional decimal.Decimal
	Offsets       []decimal.Decimal // percent of the base price, e.g. 99.9
	Instruments   []Instrument      // sorted by ID
}

type Instrument struct {
	ID          string
	Coefficient decimal.Decimal // percent applied to the reference price
	Scale       *int32          // fixed price decimals; nil derives it from the price
}

type instrumentsFile struct {
	OrderNotional string                     `yaml:"order_notional"`
	Offsets       []string                   `yaml:"offsets"`
	Instruments   map[string]instrumentEntry `yaml:"instruments"`
}

type instrumentEntry struct {
	Coefficient string `yaml:"coefficient"`
	Scale       *int32 `yaml:"scale"`
}

// LoadInstruments reads and validates the YAML instruments file.
func LoadInstruments(path string) (*InstrumentSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading instruments file: %w", err)
	}
	return ParseInstruments(data)
}

func ParseInstruments(data []byte) (*InstrumentSet, error) {
	var raw instrumentsFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing instruments file: %w", err)
	}

	set := &InstrumentSet{}

	notional := raw.OrderNotional
	if notional == "" {
		notional = "170"
	}
	n, err := decimal.NewFromString(notional)
	if err != nil || !n.IsPositive() {
		return nil, fmt.Errorf("order_notional must be a positive decimal, got %q", notional)
	}
	set.OrderNotional = n

	offsets := raw.Offsets
	if len(offsets) == 0 {
		offsets = []string{"99.9", "100.1"}
	}
	for _, o := range offsets {
		d, err := decimal.NewFromString(o)
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("offset must be a positive decimal, got %q", o)
		}
		set.Offsets = append(set.Offsets, d)
	}

	for id, e := range raw.Instruments {
		c, err := decimal.NewFromString(e.Coefficient)
		if err != nil || !c.IsPositive() {
			return nil, fmt.Errorf("%s: coefficient must be a positive decimal, got %q", id, e.Coefficient)
		}
		if e.Scale != nil && (*e.Scale < 0 || *e.Scale > 18) {
			return nil, fmt.Errorf("%s: scale must be within 0..18, got %d", id, *e.Scale)
		}
		set.Instruments = append(set.Instruments, Instrument{ID: id, Coefficient: c, Scale: e.Scale})
	}
	sort.Slice(set.Instruments, func(i, j int) bool {
		return set.Instruments[i].ID < set.Instruments[j].ID
	})

	return set, nil
}
