package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a world, challenge or level does not exist
var ErrNotFound = errors.New("not found")

// DefinitionError lists every malformed entry found while loading a world.
// The previously published definitions stay in place.
type DefinitionError struct {
	World    string
	Problems []string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid definitions for world %s: %s", e.World, strings.Join(e.Problems, "; "))
}
