package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/voicebridge/internal/store"
)

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the user and group registries",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "users",
		Short: "List known users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg store.Registry) error {
				return printUsers(ctx, os.Stdout, reg)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "groups",
		Short: "List known groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, reg store.Registry) error {
				return printGroups(ctx, os.Stdout, reg)
			})
		},
	})
	return cmd
}

func withRegistry(ctx context.Context, fn func(context.Context, store.Registry) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := openRegistry(cfg)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer reg.Close()
	return fn(ctx, reg)
}

func printUsers(ctx context.Context, w io.Writer, reg store.UserRegistry) error {
	users, err := reg.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		fmt.Fprintln(w, "No users recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tID\tLAST SEEN")
	for _, u := range users {
		fmt.Fprintf(tw, "@%s\t%d\t%s\n", u.Username, u.ID, formatSeen(u.SeenAt.IsZero(), u.SeenAt.Format("2006-01-02 15:04")))
	}
	return tw.Flush()
}

func printGroups(ctx context.Context, w io.Writer, reg store.GroupRegistry) error {
	groups, err := reg.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	if len(groups) == 0 {
		fmt.Fprintln(w, "No groups recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCHAT ID\tLAST SEEN")
	for _, g := range groups {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", g.Name, g.ChatID, formatSeen(g.SeenAt.IsZero(), g.SeenAt.Format("2006-01-02 15:04")))
	}
	return tw.Flush()
}

func formatSeen(zero bool, formatted string) string {
	if zero {
		return "-"
	}
	return formatted
}
