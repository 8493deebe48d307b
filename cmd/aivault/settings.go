package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/benaskins/aivault/internal/config"
)

var (
	setBiometric       bool
	setAutoLock        bool
	setMissingHardware string
	setWriteMode       string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change vault settings",
	Long: "Without flags, print the current settings. Changing --biometric or --auto-lock\n" +
		"never changes whether the vault is locked.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			flags := cmd.Flags()
			if flags.Changed("biometric") {
				if err := s.vault.SetBiometricEnabled(setBiometric); err != nil {
					return err
				}
			}
			if flags.Changed("auto-lock") {
				if err := s.vault.SetAutoLockEnabled(setAutoLock); err != nil {
					return err
				}
			}
			if flags.Changed("missing-hardware") || flags.Changed("write-mode") {
				cfg, err := config.Update(s.cfgPath, func(c *config.Config) {
					if flags.Changed("missing-hardware") {
						c.MissingHardware = setMissingHardware
					}
					if flags.Changed("write-mode") {
						c.WriteMode = config.WriteMode(setWriteMode)
					}
				})
				if err != nil {
					return err
				}
				s.cfg = cfg
				fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("note:"), "missing-hardware and write-mode apply to the next session")
			}

			enrolled, err := s.auth.IsEnrolled(ctx)
			if err != nil {
				return err
			}
			passphrase := "not enrolled"
			if enrolled {
				passphrase = "enrolled"
			}
			policy, _ := s.cfg.Policy()
			mode := s.cfg.WriteMode
			if mode == "" {
				mode = config.WriteAsync
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "biometric\t%t\n", s.vault.BiometricEnabled())
			fmt.Fprintf(w, "auto-lock\t%t\n", s.vault.AutoLockEnabled())
			fmt.Fprintf(w, "missing-hardware\t%s\n", policy)
			fmt.Fprintf(w, "write-mode\t%s\n", mode)
			fmt.Fprintf(w, "passphrase\t%s\n", passphrase)
			fmt.Fprintf(w, "config\t%s\n", s.cfgPath)
			fmt.Fprintf(w, "store\t%s\n", s.cfg.StorePath())
			fmt.Fprintf(w, "exports\t%s\n", s.cfg.ExportPath())
			fmt.Fprintf(w, "audit log\t%s\n", s.cfg.AuditPath())
			return w.Flush()
		})
	},
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Set or change the unlock passphrase",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			enrolled, err := s.auth.IsEnrolled(ctx)
			if err != nil {
				return err
			}
			var current []byte
			if enrolled {
				if current, err = s.auth.Prompt(ctx, "Current passphrase: "); err != nil {
					return err
				}
				defer clear(current)
			}

			first, err := s.auth.Prompt(ctx, "New passphrase: ")
			if err != nil {
				return err
			}
			defer clear(first)
			second, err := s.auth.Prompt(ctx, "Repeat passphrase: ")
			if err != nil {
				return err
			}
			defer clear(second)
			if !bytes.Equal(first, second) {
				return errors.New("passphrases do not match")
			}

			if enrolled {
				err = s.auth.Change(current, first)
			} else {
				err = s.auth.Enroll(first)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s passphrase set\n", okStyle.Render("✓"))
			return nil
		})
	},
}

var unenrollCmd = &cobra.Command{
	Use:   "unenroll",
	Short: "Remove the unlock passphrase",
	Long: "Remove the passphrase. With missing-hardware=allow the vault then unlocks\n" +
		"without a challenge; with deny it cannot be unlocked until a new enrollment.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			if err := s.unlock(ctx, cmd.ErrOrStderr()); err != nil {
				return err
			}
			if err := s.auth.Unenroll(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s passphrase removed\n", okStyle.Render("✓"))
			return nil
		})
	},
}

func init() {
	settingsCmd.Flags().BoolVar(&setBiometric, "biometric", true, "Require the passphrase challenge to unlock")
	settingsCmd.Flags().BoolVar(&setAutoLock, "auto-lock", true, "Lock when the shell is suspended")
	settingsCmd.Flags().StringVar(&setMissingHardware, "missing-hardware", "", "allow or deny unlocking when no passphrase/terminal is available")
	settingsCmd.Flags().StringVar(&setWriteMode, "write-mode", "", "async or sync persistence of changes")

	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(unenrollCmd)
}
