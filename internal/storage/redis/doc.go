// Package redis keeps the user prompt inbox in Redis so prompts submitted to
// any API replica reach the worker hosting the run.
package redis
