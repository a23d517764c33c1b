// Package api serves the operator HTTP surface: submitting and inspecting
// runs, injecting prompts into live runs, reading event streams and scraping
// metrics.
package api
