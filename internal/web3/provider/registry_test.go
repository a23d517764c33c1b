package provider

import (
	"os"
	"path/filepath"
	"testing"

	"Agent-Arena/internal/config"
)

func TestRegistryLoadsChainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := `chains:
  base:
    rpc_url: https://mainnet.base.org
    chain_id: 8453
    usdc_contract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
  base-sepolia:
    type: evm
    rpc_url: https://sepolia.base.org
    usdc_contract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
    token_decimals: 6
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}

	reg, err := NewRegistry(config.Web3Config{ChainConfig: path})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if got := reg.Chains(); len(got) != 2 || got[0] != "base" {
		t.Fatalf("unexpected chains %v", got)
	}
	def, ok := reg.Definition("")
	if !ok || def.ChainID != 8453 || def.TokenDecimals != 6 || def.LookbackBlocks == 0 {
		t.Fatalf("unexpected default definition %+v", def)
	}
}

func TestRegistryFallsBackToRPCURL(t *testing.T) {
	reg, err := NewRegistry(config.Web3Config{RPCURL: "http://127.0.0.1:8545"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if def, ok := reg.Definition("default"); !ok || def.RPCURL != "http://127.0.0.1:8545" {
		t.Fatalf("unexpected definition %+v", def)
	}
}

func TestRegistryRequiresAChain(t *testing.T) {
	if _, err := NewRegistry(config.Web3Config{}); err == nil {
		t.Fatal("expected error without any chain")
	}
}
