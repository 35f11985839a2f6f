package extension

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/reglet-dev/extrunner/connection"
)

// ModuleFunc is applied to one module by ForEach.
type ModuleFunc func(ctx context.Context, c *connection.Connection) (any, error)

// ForEachOptions controls a ForEach call.
type ForEachOptions struct {
	// Filter selects the modules; nil selects all of them.
	Filter *Filter
	// Parallel runs fn on every module concurrently.
	Parallel bool
}

// Outcome is the result of fn on one module.
type Outcome struct {
	Module *connection.Connection
	Result any
	Err    error
}

// Summary aggregates a ForEach call. Every list follows the order in which
// the modules were launched, whatever order they completed in. Result[i] is
// the value of Affected[i] and Errors[i] the failure of Failed[i].
type Summary struct {
	Outcomes []Outcome
	Affected []*connection.Connection
	Result   []any
	Failed   []*connection.Connection
	Errors   []error
}

func summarize(outcomes []Outcome) Summary {
	sum := Summary{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Err != nil {
			sum.Failed = append(sum.Failed, o.Module)
			sum.Errors = append(sum.Errors, o.Err)
			continue
		}
		sum.Affected = append(sum.Affected, o.Module)
		sum.Result = append(sum.Result, o.Result)
	}
	return sum
}

// ForEach applies fn to the selected modules. A failing module never stops
// the others.
func (e *Extension) ForEach(ctx context.Context, fn ModuleFunc, opts ForEachOptions) Summary {
	targets := opts.Filter.Apply(e.All())
	outcomes := make([]Outcome, len(targets))

	if opts.Parallel {
		var g errgroup.Group
		for i, c := range targets {
			g.Go(func() error {
				outcomes[i] = call(ctx, fn, c)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, c := range targets {
			outcomes[i] = call(ctx, fn, c)
		}
	}

	return summarize(outcomes)
}

func call(ctx context.Context, fn ModuleFunc, c *connection.Connection) (out Outcome) {
	out.Module = c
	defer func() {
		if r := recover(); r != nil {
			out.Result = nil
			out.Err = fmt.Errorf("module %s: panic: %v", c.Ref(), r)
		}
	}()
	out.Result, out.Err = fn(ctx, c)
	return out
}
