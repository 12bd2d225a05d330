package instance

import (
	"context"
	"sync"

	"github.com/bluele/gcache"

	"github.com/camvigil/camvigil/src/interfaces"
)

type key int

// Key is the context key holding the *Instance.
const Key key = 1

// Instance wires the modules of one process together.
type Instance struct {
	WaitGroup       sync.WaitGroup
	Server          interfaces.Module
	RecorderManager interfaces.Module
	Catalog         interfaces.Module
	// Cache holds catalog query results.
	Cache gcache.Cache
}

func GetInstance(ctx context.Context) *Instance {
	if s, ok := ctx.Value(Key).(*Instance); ok {
		return s
	}
	return nil
}

// WithInstance returns a context carrying inst.
func WithInstance(ctx context.Context, inst *Instance) context.Context {
	return context.WithValue(ctx, Key, inst)
}
