package interfaces

import "context"

// Module is a long lived component started and closed by main.
type Module interface {
	Start(ctx context.Context) error
	Close(ctx context.Context)
}
