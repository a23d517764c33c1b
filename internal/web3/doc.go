// Package web3 holds the chain-facing pieces of the payments collaborator:
// the RPC surface a wallet needs, the ERC-20 ABI it speaks and the YAML chain
// registry that tells it where a token lives.
package web3
