package assemble

import (
	"errors"
	"fmt"
)

// ErrInputNotFound is returned when the base document does not exist.
var ErrInputNotFound = errors.New("assemble: input not found")

// AssemblyError reports a fatal failure on the base document or the output.
type AssemblyError struct {
	Path string
	Op   string
	Err  error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// AssemblyPageError records a specification sheet whose pages were skipped.
// It never aborts assembly.
type AssemblyPageError struct {
	Row  int    `json:"row"`
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (e AssemblyPageError) Error() string {
	return fmt.Sprintf("assemble: skipped row %d %s: %v", e.Row, e.Path, e.Err)
}

func (e AssemblyPageError) Unwrap() error { return e.Err }
