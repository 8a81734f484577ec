package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// DefaultOutput is the trade ledger file of an instance that names none.
const DefaultOutput = "strategy_analysis.csv"

// InstanceConfig describes one strategy worker as written in a config or
// instances file. Window is in seconds; Drop is the rebound trigger and Rise
// the pump trigger.
type InstanceConfig struct {
	ID      string       `toml:"id" json:"id" yaml:"id"`
	Asset   string       `toml:"asset" json:"asset" yaml:"asset"`
	Variant string       `toml:"variant" json:"variant" yaml:"variant"`
	Params  ParamsConfig `toml:"params" json:"params" yaml:"params"`
	Output  string       `toml:"output" json:"output" yaml:"output"`
}

// ParamsConfig holds the tunables of an instance.
type ParamsConfig struct {
	Window float64  `toml:"window" json:"window" yaml:"window"`
	Drop   *float64 `toml:"drop" json:"drop,omitempty" yaml:"drop,omitempty"`
	Rise   *float64 `toml:"rise" json:"rise,omitempty" yaml:"rise,omitempty"`
	TP     float64  `toml:"tp" json:"tp" yaml:"tp"`
	SL     float64  `toml:"sl" json:"sl" yaml:"sl"`
}

// DefaultInstance is the single rebound worker used when nothing is configured.
func DefaultInstance() InstanceConfig {
	drop := 0.08
	return InstanceConfig{
		ID:      "btc-rebound",
		Asset:   "BTC",
		Variant: string(domain.VariantRebound),
		Params:  ParamsConfig{Window: 10, Drop: &drop, TP: 0.05, SL: 0.05},
		Output:  DefaultOutput,
	}
}

func (ic InstanceConfig) threshold() (float64, bool) {
	switch {
	case ic.Params.Drop != nil && ic.Params.Rise != nil:
		return 0, false
	case ic.Params.Drop != nil:
		return *ic.Params.Drop, true
	case ic.Params.Rise != nil:
		return *ic.Params.Rise, true
	default:
		return 0, false
	}
}

func (ic InstanceConfig) validate() error {
	var errs []error
	if strings.TrimSpace(ic.ID) == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if strings.TrimSpace(ic.Asset) == "" {
		errs = append(errs, errors.New("asset must not be empty"))
	}
	variant, err := domain.ParseVariant(ic.Variant)
	if err != nil {
		errs = append(errs, err)
	}
	if ic.Params.Window <= 0 {
		errs = append(errs, errors.New("params.window must be > 0"))
	}
	th, ok := ic.threshold()
	switch {
	case !ok:
		errs = append(errs, errors.New("exactly one of params.drop or params.rise must be set"))
	case th <= 0:
		errs = append(errs, errors.New("trigger threshold must be > 0"))
	case variant == domain.VariantRebound && ic.Params.Rise != nil:
		errs = append(errs, errors.New("rebound instances take params.drop"))
	case variant == domain.VariantPump && ic.Params.Drop != nil:
		errs = append(errs, errors.New("pump instances take params.rise"))
	}
	if ic.Params.TP <= 0 || ic.Params.SL <= 0 {
		errs = append(errs, errors.New("params.tp and params.sl must be > 0"))
	}
	return errors.Join(errs...)
}

// Domain converts the config into a domain.Instance. Relative outputs are
// placed under dir.
func (ic InstanceConfig) Domain(dir string) (domain.Instance, error) {
	if err := ic.validate(); err != nil {
		return domain.Instance{}, fmt.Errorf("config: instance %q: %w", ic.ID, err)
	}
	variant, _ := domain.ParseVariant(ic.Variant)
	th, _ := ic.threshold()

	output := ic.Output
	if output == "" {
		output = DefaultOutput
	}
	if !filepath.IsAbs(output) && dir != "" {
		output = filepath.Join(dir, output)
	}

	return domain.Instance{
		ID:      ic.ID,
		Asset:   strings.ToUpper(ic.Asset),
		Variant: variant,
		Params: domain.InstanceParams{
			FlashWindow:      time.Duration(ic.Params.Window * float64(time.Second)),
			TriggerThreshold: decimal.NewFromFloat(th),
			TakeProfit:       decimal.NewFromFloat(ic.Params.TP),
			StopLoss:         decimal.NewFromFloat(ic.Params.SL),
		},
		Output: output,
	}, nil
}

// instancesDoc is the top-level shape of an instances file.
type instancesDoc struct {
	Instances []InstanceConfig `toml:"instances" json:"instances" yaml:"instances"`
}

// LoadInstances reads strategy instances from a JSON, YAML or TOML file,
// chosen by extension. The file holds either a top-level "instances" list or,
// for JSON and YAML, a bare list.
func LoadInstances(path string) ([]InstanceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read instances: %w", err)
	}

	var doc instancesDoc
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "[") {
			err = json.Unmarshal(data, &doc.Instances)
		} else {
			err = json.Unmarshal(data, &doc)
		}
	case ".yaml", ".yml":
		var node yaml.Node
		if err = yaml.Unmarshal(data, &node); err == nil {
			if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
				err = node.Content[0].Decode(&doc.Instances)
			} else {
				err = node.Decode(&doc)
			}
		}
	case ".toml":
		_, err = toml.Decode(string(data), &doc)
	default:
		return nil, fmt.Errorf("config: instances file %s: unsupported extension %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("config: decode instances %s: %w", path, err)
	}
	return doc.Instances, nil
}

// Instances resolves the configured strategy instances: the instances file
// when set, else the inline list, else DefaultInstance.
func (c *Config) Instances() ([]domain.Instance, error) {
	list := c.Strategy.Instances
	if c.Strategy.InstancesFile != "" {
		loaded, err := LoadInstances(c.Strategy.InstancesFile)
		if err != nil {
			return nil, err
		}
		list = loaded
	}
	if len(list) == 0 {
		list = []InstanceConfig{DefaultInstance()}
	}

	out := make([]domain.Instance, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, ic := range list {
		inst, err := ic.Domain(c.Ledger.Dir)
		if err != nil {
			return nil, err
		}
		if seen[inst.ID] {
			return nil, fmt.Errorf("config: duplicate instance id %q", inst.ID)
		}
		seen[inst.ID] = true
		out = append(out, inst)
	}
	return out, nil
}
