// released under the MIT license

package gateway

import (
	"errors"
	"fmt"
)

// Runtime errors
var (
	errChannelNotJoined = errors.New("Channel is not joined")
)

// Config errors
var (
	ErrComponentNameMissing   = errors.New("Component name is missing from the config")
	ErrComponentSecretMissing = errors.New("Component secret is missing from the config")
	ErrDatastorePathMissing   = errors.New("Datastore path is missing from the config")
	ErrLoggerFilenameMissing  = errors.New("Logging configuration specifies file method but no filename")
	ErrLoggerHasNoTypes       = errors.New("Logger has no types to log")
	ErrLoggerMethodMissing    = errors.New("Logging configuration specifies no method")
)

// NotConnectedError reports an operation that needed a live connection
// to a legacy server that is not currently connected.
type NotConnectedError struct {
	Server string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("Not connected to IRC server %s", e.Server)
}
