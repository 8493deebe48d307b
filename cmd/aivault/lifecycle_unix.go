//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/benaskins/aivault/internal/lock"
)

// watchLifecycle maps job-control signals to lifecycle signals: SIGTSTP
// (Ctrl+Z) is the app going to the background, SIGCONT is it returning.
// After reporting SIGTSTP the process stops itself, since handling the
// signal suppresses the default stop.
func watchLifecycle(ctx context.Context, fn func(lock.Signal)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, unix.SIGTSTP, unix.SIGCONT)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				switch sig {
				case unix.SIGTSTP:
					fn(lock.SignalBackground)
					unix.Kill(unix.Getpid(), unix.SIGSTOP)
				case unix.SIGCONT:
					fn(lock.SignalActive)
				}
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		cancel()
		<-done
	}
}
