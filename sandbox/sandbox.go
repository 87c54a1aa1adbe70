// Package sandbox defines the script runtime abstraction and the execution
// engine that owns the single live sandbox generation.
//
// A Runtime compiles script text into a Program. Running a Program populates a
// Context with the objects the script chose to keep. The Engine disposes the
// previous Context before every new run, so at most one generation of runtime
// objects is ever alive.
package sandbox

import "context"

// Runtime is a script interpreter the engine can drive.
type Runtime interface {
	// Activate brings the runtime into a ready state. It blocks until the
	// runtime can accept work or ctx is done.
	Activate(ctx context.Context) error

	// HaltScheduled stops and clears any future work the runtime has queued
	// (timers, repeats). It must not fail.
	HaltScheduled()

	// Compile turns script text into an executable Program.
	Compile(script string) (Program, error)
}

// Program is a compiled script.
type Program interface {
	// Run executes the program with the runtime handle and sc in scope. The
	// program attaches any objects it wants to keep to sc.
	Run(ctx context.Context, sc Context) error
}

// Disposer is implemented by context objects that hold runtime resources.
type Disposer interface {
	Dispose() error
}

// Context maps identifiers to runtime objects created by one execution.
type Context map[string]any

// Result is the outcome of a single Execute call.
type Result struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Generation uint64 `json:"generation"`
	Objects    int    `json:"objects"`
}
