package params

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/polymaker/pkg/market"
)

// MarketsFile is the on-disk list of traded markets and the risk parameter
// sets they reference by name.
type MarketsFile struct {
	ParamSets map[string]market.RiskParams `yaml:"param_sets"`
	Markets   []market.Market              `yaml:"markets"`
}

// LoadMarkets reads a markets YAML file. ${VAR} references are expanded from
// the environment before parsing.
func LoadMarkets(path string) (*MarketsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read markets file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var mf MarketsFile
	if err := yaml.Unmarshal([]byte(expanded), &mf); err != nil {
		return nil, fmt.Errorf("failed to parse markets file: %w", err)
	}

	mf.applyDefaults()

	if err := mf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid markets file: %w", err)
	}
	return &mf, nil
}

func (mf *MarketsFile) applyDefaults() {
	for i := range mf.Markets {
		m := &mf.Markets[i]
		if m.MaxSize == 0 {
			m.MaxSize = m.TradeSize
		}
		if m.ParamType == "" {
			m.ParamType = "default"
		}
		if m.Answer1 == "" {
			m.Answer1 = "Yes"
		}
		if m.Answer2 == "" {
			m.Answer2 = "No"
		}
	}
}

func (mf *MarketsFile) Validate() error {
	if len(mf.Markets) == 0 {
		return fmt.Errorf("no markets configured")
	}
	for name, p := range mf.ParamSets {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("param set %s: %w", name, err)
		}
	}
	for i := range mf.Markets {
		m := &mf.Markets[i]
		if err := m.Validate(); err != nil {
			return err
		}
		if _, ok := mf.ParamSets[m.ParamType]; !ok {
			return fmt.Errorf("market %s: param set %q not defined", m.ConditionID, m.ParamType)
		}
	}
	return nil
}

// Registry builds a market registry from the file.
func (mf *MarketsFile) Registry() (*market.Registry, error) {
	reg := market.NewRegistry()
	for name, p := range mf.ParamSets {
		reg.SetParams(name, p)
	}
	for i := range mf.Markets {
		m := mf.Markets[i]
		if err := reg.Register(&m); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
