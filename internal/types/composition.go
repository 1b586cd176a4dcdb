package types

import "strings"

// AdapterConfig describes how one odin adapter is composed into
// controller nodes.
type AdapterConfig struct {
	// ProcessPrefix labels indexed sub-trees, e.g. "FP" gives FP1, FP2.
	ProcessPrefix    string `mapstructure:"process_prefix" json:"process_prefix" yaml:"process_prefix"`
	HasParamTree     bool   `mapstructure:"has_param_tree" json:"has_param_tree" yaml:"has_param_tree"`
	HasProcessParams bool   `mapstructure:"has_process_params" json:"has_process_params" yaml:"has_process_params"`
}

// DefaultAdapterConfig is used for adapters without explicit configuration.
func DefaultAdapterConfig(adapter string) AdapterConfig {
	return AdapterConfig{ProcessPrefix: strings.ToUpper(adapter)}
}

// Composition is the discovery input: which adapters to skip and how to
// compose the rest.
type Composition struct {
	APIPrefix string
	Ignore    []string
	Adapters  map[string]AdapterConfig
}

// DefaultIgnoredAdapters aggregate or describe other adapters and would
// only duplicate their parameters.
var DefaultIgnoredAdapters = []string{"api", "system_info", "od"}

func (c Composition) Ignored(adapter string) bool {
	for _, name := range c.Ignore {
		if name == adapter {
			return true
		}
	}
	return false
}

// AdapterConfig returns the configuration for adapter, filling in the
// process prefix when it is unset.
func (c Composition) AdapterConfig(adapter string) AdapterConfig {
	cfg, ok := c.Adapters[adapter]
	if !ok {
		return DefaultAdapterConfig(adapter)
	}
	if cfg.ProcessPrefix == "" {
		cfg.ProcessPrefix = DefaultAdapterConfig(adapter).ProcessPrefix
	}
	return cfg
}
