// Package plan provides pure functions for turning a parsed stack
// descriptor into an execution plan.
//
// Everything here is side-effect free: naming, dependency ordering,
// variable substitution, and container plan building all take values
// and return values. The imperative shell (internal/shell/docker)
// executes the resulting plans against the Docker Engine API.
package plan
