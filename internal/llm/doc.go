// Package llm defines the canonical model-facing types: the action vocabulary,
// Decision, the capped Conversation and the Provider contract that the vendor
// adapters under this directory implement. Vendor field names never leave the
// adapter packages.
package llm
