package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/benaskins/aivault/internal/config"
	"github.com/benaskins/aivault/internal/lock"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session; suspending it (Ctrl+Z) locks the vault",
	Long: "Start an interactive session. Every aivault command can be typed without the\n" +
		"program name. Suspending the shell is reported to the vault as the app going to\n" +
		"the background, which locks it when auto-lock is enabled.",
	Args: cobra.NoArgs,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	if shared != nil {
		return errors.New("already in a shell")
	}

	s, err := openSession("shell")
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shared = s
	defer func() { shared = nil }()

	out := cmd.OutOrStdout()
	target := &shellSession{s: s, out: out}

	stopLifecycle := watchLifecycle(ctx, func(sig lock.Signal) {
		locked, err := target.Lifecycle(ctx, sig)
		if err != nil {
			fmt.Fprintln(out, warnStyle.Render("warning:"), err)
		}
		if locked {
			fmt.Fprintln(out, "\nvault locked")
		}
	})
	defer stopLifecycle()

	go func() {
		err := config.Watch(ctx, s.cfgPath, func(cfg *config.Config) {
			s.vault.ApplySettings(cfg.BiometricEnabled, cfg.AutoLockEnabled)
		})
		if err != nil {
			fmt.Fprintln(out, warnStyle.Render("warning:"), "config watcher:", err)
		}
	}()

	if err := target.Unlock(ctx); err != nil {
		fmt.Fprintln(out, errorStyle.Render("error:"), err)
	}
	runREPL(ctx, target, bufio.NewScanner(cmd.InOrStdin()), out)

	return s.close(context.Background())
}

// shellTarget is what the REPL drives. shellSession implements it; tests
// substitute a fake.
type shellTarget interface {
	State() lock.State
	Unlock(ctx context.Context) error
	Lock(ctx context.Context) error
	Lifecycle(ctx context.Context, sig lock.Signal) (bool, error)
	Exec(ctx context.Context, args []string) error
}

// runREPL reads one command per line until EOF, "exit" or ctx ends.
func runREPL(ctx context.Context, t shellTarget, scanner *bufio.Scanner, w io.Writer) {
	for ctx.Err() == nil {
		fmt.Fprintf(w, "aivault [%s]> ", stateBadge(t.State()))
		if !scanner.Scan() {
			fmt.Fprintln(w)
			return
		}
		args, err := splitArgs(scanner.Text())
		if err != nil {
			fmt.Fprintln(w, errorStyle.Render("error:"), err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "help", "?":
			fmt.Fprintln(w, "Shell commands: lock, unlock, signal <active|inactive|background>, exit")
			fmt.Fprintln(w, "Vault commands: add, edit, rm, get, list, search, stats, export, import, erase, settings, enroll")
			fmt.Fprintln(w, "Use <command> --help for details.")
			continue

		case "exit", "quit":
			return

		case "lock":
			err = t.Lock(ctx)

		case "unlock":
			err = t.Unlock(ctx)

		case "signal":
			if len(args) != 2 {
				err = errors.New("usage: signal <active|inactive|background>")
				break
			}
			var sig lock.Signal
			if sig, err = lock.ParseSignal(args[1]); err == nil {
				var locked bool
				if locked, err = t.Lifecycle(ctx, sig); locked {
					fmt.Fprintln(w, "vault locked")
				}
			}

		default:
			err = t.Exec(ctx, args)
		}

		if err != nil {
			fmt.Fprintln(w, errorStyle.Render("error:"), err)
		}
	}
}

// shellSession runs REPL commands against the shared session.
type shellSession struct {
	s   *session
	out io.Writer
}

func (t *shellSession) State() lock.State { return t.s.vault.State() }

func (t *shellSession) Unlock(ctx context.Context) error {
	return t.s.unlock(ctx, t.out)
}

func (t *shellSession) Lock(ctx context.Context) error {
	return t.s.vault.Lock(ctx)
}

func (t *shellSession) Lifecycle(ctx context.Context, sig lock.Signal) (bool, error) {
	return t.s.vault.OnLifecycleChange(ctx, sig)
}

func (t *shellSession) Exec(ctx context.Context, args []string) error {
	return execute(ctx, args, t.out)
}

// execute runs the command tree once with args. Flag values left over
// from a previous run are reset first.
func execute(ctx context.Context, args []string, out io.Writer) error {
	resetFlags(rootCmd)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	return rootCmd.ExecuteContext(ctx)
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// splitArgs splits a shell line into words. Quotes and backslash escapes
// follow sh rules; pipes, redirections and command separators are refused.
func splitArgs(line string) ([]string, error) {
	p := shellwords.NewParser()
	args, err := p.Parse(line)
	if err != nil {
		return nil, err
	}
	if p.Position >= 0 {
		return nil, fmt.Errorf("unsupported shell operator at column %d (quote it)", p.Position+1)
	}
	if len(args) == 0 {
		return nil, nil
	}
	return args, nil
}
