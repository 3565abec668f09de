package script

import "context"

// Scope is an opaque handle to one interpreter context. Each channel owns
// exactly one scope for its lifetime.
type Scope interface {
	// ID identifies the scope in logs.
	ID() string
}

// Engine abstracts the interpreter that runs injected code.
type Engine interface {
	// CreateScope allocates a fresh, empty execution scope.
	CreateScope() Scope

	// Execute runs code inside scope. Callers bound execution time through
	// ctx; engines that cannot interrupt running code should at least refuse
	// to start once ctx is done.
	Execute(ctx context.Context, code string, scope Scope) error

	// ConfigureSearchPaths sets the module search paths. It is called once
	// at startup, before any scope is created.
	ConfigureSearchPaths(paths []string)
}
