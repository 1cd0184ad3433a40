// Package dataset reads source robot trajectory collections, harmonizes them through
// their registered step mappers, and interleaves them into one unbounded training
// stream of fixed-length trajectory windows.
package dataset

import (
	"github.com/robomosaic/robomosaic/robo-go/trajectory"
)

// SentinelLen is the declared length of the merged stream. The stream is conceptually
// infinite; the sentinel only exists so that epoch-oriented consumers have a bound.
const SentinelLen int = 1e8

// Dataset yields fixed-length trajectory windows one at a time. Next returns io.EOF
// once the underlying collection is exhausted; Reset rewinds to the beginning.
// Implementations are not safe for concurrent use.
type Dataset interface {
	Name() string
	Reset() error
	Next() (trajectory.Window, error)
	// Spec is the per-field tensor spec shared by every window the dataset yields.
	Spec() trajectory.StepSpec
}
