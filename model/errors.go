package model

import "errors"

// Error taxonomy. Callers match with errors.Is; none of these are fatal to the
// process.
var (
	// ErrNotConfigured means a required collaborator or credential is unbound.
	ErrNotConfigured = errors.New("not configured")

	// ErrValidation means action parameters were missing or malformed.
	ErrValidation = errors.New("validation failed")

	// ErrExecution means the script failed to compile or run.
	ErrExecution = errors.New("execution failed")

	// ErrTransport means the chat-completion call failed.
	ErrTransport = errors.New("transport failed")
)

// Failure builds a failed ActionResult from a message and an error.
func Failure(message string, err error) ActionResult {
	res := ActionResult{Success: false, Message: message}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}
