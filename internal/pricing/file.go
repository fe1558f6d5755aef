package pricing

import (
	"fmt"

	"github.com/spf13/viper"
)

type fileLayout struct {
	Rules []Rule `mapstructure:"rules"`
}

// LoadFile reads rules from a YAML, TOML or JSON file (picked by extension):
//
//	rules:
//	  - event_type: dual
//	    base_amount: 11000000
//	    shares:
//	      - {role: party_a, basis_points: 2000}
//	      - {role: party_b, basis_points: 8000}
func LoadFile(path string) ([]Rule, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}

	var layout fileLayout
	if err := v.Unmarshal(&layout); err != nil {
		return nil, fmt.Errorf("decode pricing file: %w", err)
	}
	if len(layout.Rules) == 0 {
		return nil, fmt.Errorf("%w: %s defines no rules", ErrInvalidRule, path)
	}
	for _, r := range layout.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return layout.Rules, nil
}

// Load builds the active table: defaults first, then any rules from path
// replace or extend them.
func Load(feeA, feeB int64, path string) (*Table, error) {
	if feeA > MaxBaseAmount-feeB {
		return nil, fmt.Errorf("%w: combined fee %d + %d exceeds %d", ErrInvalidRule, feeA, feeB, int64(MaxBaseAmount))
	}
	table, err := NewTable(Defaults(feeA, feeB)...)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return table, nil
	}
	rules, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if err := table.Set(r); err != nil {
			return nil, err
		}
	}
	return table, nil
}
