package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/benaskins/aivault/internal/snapshot"
	"github.com/benaskins/aivault/internal/vault"
)

var exportDir string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every record to a backup file (secrets in clear)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			if err := s.unlock(ctx, cmd.ErrOrStderr()); err != nil {
				return err
			}
			dir := exportDir
			if dir == "" {
				dir = s.cfg.ExportPath()
			}
			path, err := s.vault.ExportFile(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s exported to %s\n", okStyle.Render("✓"), path)
			fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("note:"), "the backup is not encrypted; store it somewhere safe")
			return nil
		})
	},
}

var importYes bool

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace ALL records with the contents of a backup file",
	Long: "Replace every collection with the backup's contents. Records not in the backup are lost;\n" +
		"a collection missing from the backup becomes empty.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Parse before asking, so a bad file is reported without a prompt.
		doc, err := snapshot.ReadFile(args[0])
		if err != nil {
			return err
		}
		return withVault(cmd, func(ctx context.Context, v *vault.Vault) error {
			prompt := fmt.Sprintf("Replace all records with %d from %s?", doc.Len(), args[0])
			if ok, err := confirm(cmd, importYes, prompt); err != nil || !ok {
				return err
			}
			if err := v.ImportFile(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s imported %d records\n", okStyle.Render("✓"), doc.Len())
			return nil
		})
	},
}

var eraseYes bool

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Delete every record from the vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(cmd, func(ctx context.Context, v *vault.Vault) error {
			if ok, err := confirm(cmd, eraseYes, "Delete ALL records? This cannot be undone."); err != nil || !ok {
				return err
			}
			if err := v.Erase(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s all data has been cleared\n", okStyle.Render("✓"))
			return nil
		})
	},
}

var errAborted = errors.New("aborted")

// confirm asks a yes/no question on the command's input unless yes is set.
func confirm(cmd *cobra.Command, yes bool, prompt string) (bool, error) {
	if yes {
		return true, nil
	}
	if shared != nil {
		return false, fmt.Errorf("%w: pass --yes to confirm", errAborted)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N] ", prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, errAborted
}

func init() {
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "Directory for the backup file (default from config)")
	importCmd.Flags().BoolVarP(&importYes, "yes", "y", false, "Do not ask for confirmation")
	eraseCmd.Flags().BoolVarP(&eraseYes, "yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(eraseCmd)
}
