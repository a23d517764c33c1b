// Package provider resolves a named chain from the registry file into a ready
// wallet.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"Agent-Arena/internal/config"
	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/web3"
	"Agent-Arena/internal/web3/ethereum"
)

// Registry holds the chain definitions known to the process.
type Registry struct {
	defaultChain string
	chains       map[string]web3.ChainDefinition
	privateKey   string
}

// NewRegistry loads chain definitions. A bare rpc_url in cfg registers a
// chain named "default".
func NewRegistry(cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	chains := make(map[string]web3.ChainDefinition, len(defs.Chains)+1)
	for name, chain := range defs.Chains {
		if t := strings.ToLower(strings.TrimSpace(chain.Type)); t != "evm" {
			return nil, fmt.Errorf("chain %s uses unsupported type %s", name, chain.Type)
		}
		chains[name] = chain
	}
	if len(chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		chains["default"] = web3.ChainDefinition{Type: "evm", RPCURL: cfg.RPCURL, USDCContract: cfg.USDCContract}
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}
	if len(chains) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "no chain rpc endpoint configured")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		defaultChain = sortedNames(chains)[0]
	}
	if _, ok := chains[defaultChain]; !ok {
		return nil, fmt.Errorf("default chain %s not found in registry", defaultChain)
	}
	return &Registry{defaultChain: defaultChain, chains: chains, privateKey: cfg.PrivateKey}, nil
}

// Chains returns the registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	return sortedNames(r.chains)
}

// Definition returns the named chain; an empty name selects the default.
func (r *Registry) Definition(name string) (web3.ChainDefinition, bool) {
	if r == nil {
		return web3.ChainDefinition{}, false
	}
	if name == "" {
		name = r.defaultChain
	}
	def, ok := r.chains[name]
	return def, ok
}

// OpenWallet dials the named chain and returns a wallet for the configured key.
func (r *Registry) OpenWallet(ctx context.Context, name string) (*ethereum.Wallet, error) {
	if name == "" {
		name = r.defaultChain
	}
	def, ok := r.Definition(name)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "unknown chain "+name)
	}
	return ethereum.Dial(ctx, def.RPCURL, ethereum.Config{
		Name:           name,
		PrivateKey:     r.privateKey,
		TokenAddress:   def.USDCContract,
		TokenDecimals:  def.TokenDecimals,
		ChainID:        def.ChainID,
		LookbackBlocks: def.LookbackBlocks,
	})
}

func sortedNames(chains map[string]web3.ChainDefinition) []string {
	names := make([]string, 0, len(chains))
	for name := range chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
