//go:build !unix

package main

import (
	"context"

	"github.com/benaskins/aivault/internal/lock"
)

// watchLifecycle is a no-op where job control is unavailable; the shell's
// "signal" command still delivers lifecycle signals by hand.
func watchLifecycle(ctx context.Context, fn func(lock.Signal)) (stop func()) {
	return func() {}
}
