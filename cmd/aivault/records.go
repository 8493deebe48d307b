package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/aivault/internal/record"
	"github.com/benaskins/aivault/internal/vault"
)

// fieldFlags holds the record field flags shared by add and edit.
type fieldFlags struct {
	name, url, description, category string
	platform, secret, notes, expiry  string
}

func (f *fieldFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Record name (required)")
	cmd.Flags().StringVar(&f.url, "url", "", "Website URL")
	cmd.Flags().StringVar(&f.description, "description", "", "Website description")
	cmd.Flags().StringVar(&f.category, "category", "", "Website category")
	cmd.Flags().StringVar(&f.platform, "platform", "", "API key platform")
	cmd.Flags().StringVar(&f.secret, "secret", "", `API key or MFA backup codes ("-" to prompt)`)
	cmd.Flags().StringVar(&f.notes, "notes", "", "Notes")
	cmd.Flags().StringVar(&f.expiry, "expiry", "", "API key expiry date")
}

// fields builds the variant for kind k. When base is non-nil, flags that
// were not set keep base's values.
func (f *fieldFlags) fields(cmd *cobra.Command, k record.Kind, base record.Fields) (record.Fields, error) {
	pick := func(flag, value, current string) string {
		if base == nil || cmd.Flags().Changed(flag) {
			return value
		}
		return current
	}

	secret := f.secret
	if secret == "-" {
		s, err := readSecret(cmd)
		if err != nil {
			return nil, err
		}
		secret = s
	}

	switch k {
	case record.KindWebsite:
		cur, _ := base.(record.WebsiteFields)
		return record.WebsiteFields{
			Name:        pick("name", f.name, cur.Name),
			URL:         pick("url", f.url, cur.URL),
			Description: pick("description", f.description, cur.Description),
			Category:    pick("category", f.category, cur.Category),
		}, nil
	case record.KindAPIKey:
		cur, _ := base.(record.APIKeyFields)
		return record.APIKeyFields{
			Name:       pick("name", f.name, cur.Name),
			Platform:   pick("platform", f.platform, cur.Platform),
			Secret:     pick("secret", secret, cur.Secret),
			Notes:      pick("notes", f.notes, cur.Notes),
			ExpiryDate: pick("expiry", f.expiry, cur.ExpiryDate),
		}, nil
	case record.KindMFA:
		cur, _ := base.(record.MFAFields)
		return record.MFAFields{
			Name:   pick("name", f.name, cur.Name),
			Secret: pick("secret", secret, cur.Secret),
			Notes:  pick("notes", f.notes, cur.Notes),
		}, nil
	}
	return nil, fmt.Errorf("unknown record kind %q", k)
}

// readSecret prompts without echo on a terminal, otherwise reads stdin.
func readSecret(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "Enter secret value: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return string(b), nil
	}
	if shared != nil {
		return "", errors.New("no terminal to prompt on; pass the value with --secret")
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

var addFlags fieldFlags

var addCmd = &cobra.Command{
	Use:   "add <website|apikey|mfa>",
	Short: "Add a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := record.ParseKind(args[0])
		if err != nil {
			return err
		}
		f, err := addFlags.fields(cmd, k, nil)
		if err != nil {
			return err
		}
		return withVault(cmd, func(ctx context.Context, v *vault.Vault) error {
			r, err := v.Create(ctx, f)
			if r != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %q added (%s)\n", okStyle.Render("✓"), k, r.Base().Name, r.Base().ID)
			}
			return err
		})
	},
}

var editFlags fieldFlags

var editCmd = &cobra.Command{
	Use:   "edit <kind> <id>",
	Short: "Change fields of a record; unset flags keep their value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := record.ParseKind(args[0])
		if err != nil {
			return err
		}
		return withVault(cmd, func(ctx context.Context, v *vault.Vault) error {
			cur, err := v.Get(k, args[1])
			if err != nil {
				return err
			}
			f, err := editFlags.fields(cmd, k, cur.Fields())
			if err != nil {
				return err
			}
			r, err := v.Update(ctx, args[1], f)
			if r != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %q updated\n", okStyle.Render("✓"), k, r.Base().Name)
			}
			return err
		})
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <kind> <id>",
	Short:   "Delete a record",
	Aliases: []string{"delete"},
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := record.ParseKind(args[0])
		if err != nil {
			return err
		}
		return withVault(cmd, func(ctx context.Context, v *vault.Vault) error {
			if err := v.Delete(ctx, k, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s deleted\n", okStyle.Render("✓"), k, args[1])
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <kind> <id>",
	Short: "Show one record including its secret",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := record.ParseKind(args[0])
		if err != nil {
			return err
		}
		return withVault(cmd, func(ctx context.Context, v *vault.Vault) error {
			r, err := v.Get(k, args[1])
			if err != nil {
				return err
			}
			printRecord(cmd.OutOrStdout(), r, time.Now())
			return nil
		})
	},
}

var listReveal bool

var listCmd = &cobra.Command{
	Use:     "list [kind]",
	Short:   "List records",
	Aliases: []string{"ls"},
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, err := kindsArg(args)
		if err != nil {
			return err
		}
		return withVault(cmd, func(ctx context.Context, v *vault.Vault) error {
			return printKinds(cmd.OutOrStdout(), kinds, v.List)
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query> [kind]",
	Short: "Find records whose searchable fields contain query (case-insensitive)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, err := kindsArg(args[1:])
		if err != nil {
			return err
		}
		return withVault(cmd, func(ctx context.Context, v *vault.Vault) error {
			if err := v.SetSearchQuery(args[0]); err != nil {
				return err
			}
			return printKinds(cmd.OutOrStdout(), kinds, v.Results)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count records per kind",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(cmd, func(ctx context.Context, v *vault.Vault) error {
			st, err := v.Stats()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "websites\t%d\n", st.Websites)
			fmt.Fprintf(w, "api keys\t%d\n", st.APIKeys)
			fmt.Fprintf(w, "mfa tokens\t%d\n", st.MFATokens)
			fmt.Fprintf(w, "total\t%d\n", st.Total)
			return w.Flush()
		})
	},
}

func kindsArg(args []string) ([]record.Kind, error) {
	if len(args) == 0 {
		return record.Kinds(), nil
	}
	k, err := record.ParseKind(args[0])
	if err != nil {
		return nil, err
	}
	return []record.Kind{k}, nil
}

func printKinds(w io.Writer, kinds []record.Kind, fetch func(record.Kind) ([]record.Record, error)) error {
	for i, k := range kinds {
		rs, err := fetch(k)
		if err != nil {
			return err
		}
		if len(kinds) > 1 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%s (%d)\n", k.Key(), len(rs))
		}
		printTable(w, k, rs, listReveal, time.Now())
	}
	return nil
}

// printTable renders records of one kind. Secrets are masked unless reveal.
func printTable(w io.Writer, k record.Kind, rs []record.Record, reveal bool, now time.Time) {
	if len(rs) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	switch k {
	case record.KindWebsite:
		fmt.Fprintln(tw, "ID\tNAME\tURL\tCATEGORY")
	case record.KindAPIKey:
		fmt.Fprintln(tw, "ID\tNAME\tPLATFORM\tKEY\tEXPIRY")
	case record.KindMFA:
		fmt.Fprintln(tw, "ID\tNAME\tCODES")
	}
	for _, r := range rs {
		switch r := r.(type) {
		case record.Website:
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.URL, r.Category)
		case record.APIKey:
			expiry := r.ExpiryDate
			if r.Expired(now) {
				expiry += " (expired)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Platform, mask(r.Secret, reveal), expiry)
		case record.MFA:
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Name, mask(r.Secret, reveal))
		}
	}
	tw.Flush()
}

func printRecord(w io.Writer, r record.Record, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	base := r.Base()
	fmt.Fprintf(tw, "id\t%s\n", base.ID)
	fmt.Fprintf(tw, "kind\t%s\n", r.Kind())
	fmt.Fprintf(tw, "name\t%s\n", base.Name)
	switch r := r.(type) {
	case record.Website:
		fmt.Fprintf(tw, "url\t%s\n", r.URL)
		fmt.Fprintf(tw, "description\t%s\n", r.Description)
		fmt.Fprintf(tw, "category\t%s\n", r.Category)
	case record.APIKey:
		fmt.Fprintf(tw, "platform\t%s\n", r.Platform)
		fmt.Fprintf(tw, "key\t%s\n", r.Secret)
		fmt.Fprintf(tw, "notes\t%s\n", r.Notes)
		expiry := r.ExpiryDate
		if r.Expired(now) {
			expiry += " (expired)"
		}
		fmt.Fprintf(tw, "expiry\t%s\n", expiry)
	case record.MFA:
		fmt.Fprintf(tw, "codes\t%s\n", r.Secret)
		fmt.Fprintf(tw, "notes\t%s\n", r.Notes)
	}
	fmt.Fprintf(tw, "created\t%s\n", base.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "updated\t%s\n", base.UpdatedAt.Local().Format(time.DateTime))
	tw.Flush()
}

// mask hides all but the last four characters of a secret.
func mask(secret string, reveal bool) string {
	if reveal || secret == "" {
		return secret
	}
	runes := []rune(secret)
	if len(runes) <= 4 {
		return strings.Repeat("•", len(runes))
	}
	return strings.Repeat("•", 4) + string(runes[len(runes)-4:])
}

func init() {
	addFlags.register(addCmd)
	editFlags.register(editCmd)
	listCmd.Flags().BoolVar(&listReveal, "reveal", false, "Show secrets in clear")
	searchCmd.Flags().BoolVar(&listReveal, "reveal", false, "Show secrets in clear")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)
}
