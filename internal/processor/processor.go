package processor

import (
	"context"

	"feeder/internal/bundle"
)

// Processor handles one bundle on a worker. It reports whether the bundle
// as a whole succeeded; an error counts as failure.
type Processor interface {
	Process(ctx context.Context, b *bundle.Bundle) (bool, error)
}

// Func adapts a function to Processor.
type Func func(ctx context.Context, b *bundle.Bundle) (bool, error)

func (f Func) Process(ctx context.Context, b *bundle.Bundle) (bool, error) { return f(ctx, b) }
