// Package services assembles shipyard's runtime components.
//
// Build wires configuration into a Registry: state store, session registry,
// git and worktree access, the GitHub platform client, the agent invoker and
// the phase engine. NewRegistry wraps instances built elsewhere, which is
// how tests substitute fakes.
package services
