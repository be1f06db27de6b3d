package surface

import "fmt"

// Backend names accepted by New.
const (
	BackendTermbox = "termbox"
	BackendTcell   = "tcell"
	BackendNull    = "null"
)

// Backends lists the accepted backend names.
var Backends = []string{BackendTermbox, BackendTcell, BackendNull}

// New creates a surface by backend name. An empty name selects termbox.
func New(backend string) (Surface, error) {
	switch backend {
	case "", BackendTermbox:
		return NewTermbox(), nil
	case BackendTcell:
		return NewTcell(), nil
	case BackendNull:
		return NewNull(80, 24), nil
	default:
		return nil, fmt.Errorf("unknown surface backend %q", backend)
	}
}
