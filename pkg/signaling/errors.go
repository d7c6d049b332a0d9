package signaling

import (
	"errors"

	"github.com/meshrelay/meshrelay/pkg/api"
	"github.com/meshrelay/meshrelay/pkg/registry"
)

var (
	ErrUnjoined       = errors.New("join a room first")
	ErrTargetNotFound = errors.New("no such peer in the room")
)

// codeOf maps a routing error to its wire code.
func codeOf(err error) api.ErrorCode {
	switch {
	case errors.Is(err, ErrUnjoined):
		return api.CodeUnjoined
	case errors.Is(err, registry.ErrJoinedElsewhere):
		return api.CodeJoinedElsewhere
	case errors.Is(err, ErrTargetNotFound):
		return api.CodeTargetNotFound
	default:
		return api.CodeMalformed
	}
}
