package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the chain registry file.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes one network and the USDC deployment on it.
type ChainDefinition struct {
	Type           string `yaml:"type"`
	RPCURL         string `yaml:"rpc_url"`
	ChainID        int64  `yaml:"chain_id"`
	USDCContract   string `yaml:"usdc_contract"`
	TokenDecimals  int32  `yaml:"token_decimals"`
	LookbackBlocks uint64 `yaml:"lookback_blocks"`
	Description    string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML registry. An empty path yields an
// empty registry.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("read chain registry: %w", err)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions decodes registry content and fills defaults.
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("parse chain registry: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, def := range defs.Chains {
		if def.Type == "" {
			def.Type = "evm"
		}
		if def.TokenDecimals == 0 {
			def.TokenDecimals = 6
		}
		if def.LookbackBlocks == 0 {
			def.LookbackBlocks = 50_000
		}
		defs.Chains[name] = def
	}
	return defs, nil
}
