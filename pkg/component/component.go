// Package component runs the daemon's long-lived parts in order and stops
// them in reverse.
package component

import "context"

type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
