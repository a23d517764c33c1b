// Package agent runs one goal-directed agent loop: it gathers context, asks a
// fallback chain of model providers for a decision, screens it against the
// run's constraints, dispatches it to a tool and reports the outcome through
// an event sink until a terminal condition is reached.
package agent
