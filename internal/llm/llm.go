// Package llm defines the generation boundary used by the coordinator.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned when no usable generator is configured.
var ErrUnavailable = errors.New("generation unavailable")

// Generator produces raw model text for a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Result is the outcome of one generation call. Exactly one of the two
// variants is set.
type Result struct {
	Success *Success
	Failure *Failure
}

type Success struct {
	Text string
}

type Failure struct {
	Err error
}

func (r Result) OK() bool { return r.Success != nil }

// Error returns the failure text, or "" for a success.
func (r Result) Error() string {
	if r.Failure == nil || r.Failure.Err == nil {
		return ""
	}
	return r.Failure.Err.Error()
}

// Call runs g and folds its outcome into a Result. A nil generator yields a
// Failure wrapping ErrUnavailable. Panics inside the generator are reported
// as failures so a broken client cannot take the coordinator down.
func Call(ctx context.Context, g Generator, system, user string) (res Result) {
	if g == nil {
		return Result{Failure: &Failure{Err: ErrUnavailable}}
	}
	defer func() {
		if p := recover(); p != nil {
			res = Result{Failure: &Failure{Err: fmt.Errorf("generator panic: %v", p)}}
		}
	}()

	text, err := g.Generate(ctx, system, user)
	if err != nil {
		return Result{Failure: &Failure{Err: err}}
	}
	return Result{Success: &Success{Text: text}}
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, system, user string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}
