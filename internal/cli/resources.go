package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/folio/internal/service"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// resourceTable prints resources in a table.
func resourceTable(w io.Writer, rs []*service.ResourceRead) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tLEVEL\tSTATE\tTITLE")
	for _, r := range rs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.ID, r.ResourceType, r.Level, resourceState(r), r.Title.Get("enUS"))
	}
	tw.Flush()
}

func resourceState(r *service.ResourceRead) string {
	switch {
	case r.Public:
		return "public"
	case r.Proposed:
		return "proposed"
	case r.IsVersion():
		return "version"
	}
	return "private"
}

func printResource(r *service.ResourceRead) func(io.Writer) {
	return func(w io.Writer) {
		fmt.Fprintf(w, "ID:       %s\n", r.ID)
		fmt.Fprintf(w, "Type:     %s\n", r.ResourceType)
		fmt.Fprintf(w, "Title:    %s\n", r.Title.Get("enUS"))
		fmt.Fprintf(w, "Text:     %s (level %d)\n", r.TextID, r.Level)
		fmt.Fprintf(w, "State:    %s\n", resourceState(r))
		if r.Owner != nil {
			fmt.Fprintf(w, "Owner:    %s\n", r.Owner.Username)
		}
		if r.OriginalID != "" {
			fmt.Fprintf(w, "Original: %s\n", r.OriginalID)
		}
		fmt.Fprintf(w, "Writable: %t\n", r.Writable)
	}
}

func newResourceCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "resource",
		Aliases: []string{"res"},
		Short:   "Manage resources",
	}
	cmd.AddCommand(
		newResourceCreateCmd(flags),
		newResourceGetCmd(flags),
		newResourceListCmd(flags),
		newResourceUpdateCmd(flags),
		newResourceDeleteCmd(flags),
		newResourceSharesCmd(flags),
		newResourceTransferCmd(flags),
		newResourceCoverageCmd(flags),
		newResourceAggregationsCmd(flags),
		newResourceTemplateCmd(flags),
	)
	for _, t := range []struct {
		use, short string
		fn         transitionFunc
	}{
		{"version", "Create a private version of a resource", (*service.Service).CreateVersion},
		{"propose", "Propose a resource for publication", (*service.Service).Propose},
		{"unpropose", "Withdraw a proposal", (*service.Service).Unpropose},
		{"publish", "Publish a proposed resource (superuser)", (*service.Service).Publish},
		{"unpublish", "Return a public resource to its proposer (superuser)", (*service.Service).Unpublish},
	} {
		cmd.AddCommand(newTransitionCmd(flags, t.use, t.short, t.fn))
	}
	return cmd
}

func newResourceCreateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create <file>",
		Short: "Create a resource from a JSON or YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			doc, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			r, err := a.svc.CreateResource(cmd.Context(), a.principal, doc)
			if err != nil {
				return err
			}
			return output(cmd, flags, r, printResource(r))
		}),
	}
}

func newResourceGetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a resource",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			r, err := a.svc.GetResource(cmd.Context(), a.principal, args[0])
			if err != nil {
				return err
			}
			return output(cmd, flags, r, printResource(r))
		}),
	}
}

func newResourceListCmd(flags *rootFlags) *cobra.Command {
	var (
		q     service.ResourceQuery
		level int
		owner string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List readable resources",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
			if cmd.Flags().Changed("level") {
				q.Level = &level
			}
			if owner != "" {
				p, err := a.svc.PrincipalByUsername(cmd.Context(), owner)
				if err != nil {
					return err
				}
				q.OwnerID = p.ID
			}
			rs, err := a.svc.FindResources(cmd.Context(), a.principal, q)
			if err != nil {
				return err
			}
			return output(cmd, flags, rs, func(w io.Writer) { resourceTable(w, rs) })
		}),
	}
	cmd.Flags().StringVar(&q.TextID, "text", "", "filter by text ID")
	cmd.Flags().IntVar(&level, "level", 0, "filter by structure level")
	cmd.Flags().StringVar(&q.ResourceType, "type", "", "filter by resource type")
	cmd.Flags().StringVar(&owner, "owner", "", "filter by owner username")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum number of resources")
	return cmd
}

func newResourceUpdateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> <file>",
		Short: "Apply a partial update document to a resource",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			doc, err := readDocument(cmd, args[1])
			if err != nil {
				return err
			}
			r, err := a.svc.UpdateResource(cmd.Context(), a.principal, args[0], doc)
			if err != nil {
				return err
			}
			return output(cmd, flags, r, printResource(r))
		}),
	}
}

func newResourceDeleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a resource and its contents",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.svc.DeleteResource(cmd.Context(), a.principal, args[0]); err != nil {
				return err
			}
			return output(cmd, flags, map[string]string{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "deleted %s\n", args[0])
			})
		}),
	}
}

// transitionFunc is the shape of the service's lifecycle methods.
type transitionFunc func(*service.Service, context.Context, types.Principal, string) (*service.ResourceRead, error)

func newTransitionCmd(flags *rootFlags, use, short string, fn transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			r, err := fn(a.svc, cmd.Context(), a.principal, args[0])
			if err != nil {
				return err
			}
			return output(cmd, flags, r, printResource(r))
		}),
	}
}

func newResourceSharesCmd(flags *rootFlags) *cobra.Command {
	var read, write []string
	cmd := &cobra.Command{
		Use:   "shares <id>",
		Short: "Replace the users a resource is shared with",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			readIDs, err := a.principalIDs(cmd, read)
			if err != nil {
				return err
			}
			writeIDs, err := a.principalIDs(cmd, write)
			if err != nil {
				return err
			}
			r, err := a.svc.SetShares(cmd.Context(), a.principal, args[0], readIDs, writeIDs)
			if err != nil {
				return err
			}
			return output(cmd, flags, r, printResource(r))
		}),
	}
	cmd.Flags().StringSliceVar(&read, "read", nil, "usernames granted read access")
	cmd.Flags().StringSliceVar(&write, "write", nil, "usernames granted write access")
	return cmd
}

func (a *app) principalIDs(cmd *cobra.Command, usernames []string) ([]string, error) {
	ids := make([]string, 0, len(usernames))
	for _, u := range usernames {
		p, err := a.svc.PrincipalByUsername(cmd.Context(), u)
		if err != nil {
			return nil, err
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func newResourceTransferCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <id> <username>",
		Short: "Hand a resource over to another user",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			target, err := a.svc.PrincipalByUsername(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			r, err := a.svc.Transfer(cmd.Context(), a.principal, args[0], target.ID)
			if err != nil {
				return err
			}
			return output(cmd, flags, r, printResource(r))
		}),
	}
}

func newResourceCoverageCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "coverage <id>",
		Short: "Show which locations of a resource have contents",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			cov, err := a.svc.Coverage(cmd.Context(), a.principal, args[0])
			if err != nil {
				return err
			}
			return output(cmd, flags, cov, func(w io.Writer) {
				fmt.Fprintf(w, "covered %d of %d locations\n", cov.Covered, cov.Total)
				for _, g := range cov.Gaps {
					if g.Length == 1 {
						fmt.Fprintf(w, "  gap: %s\n", g.FromLabel)
						continue
					}
					fmt.Fprintf(w, "  gap: %s to %s (%d)\n", g.FromLabel, g.ToLabel, g.Length)
				}
			})
		}),
	}
}

func newResourceAggregationsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregations <id>",
		Short: "Show the type-specific aggregations of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			aggs, err := a.svc.Aggregations(cmd.Context(), a.principal, args[0])
			if err != nil {
				return err
			}
			return output(cmd, flags, aggs, func(w io.Writer) {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				_ = enc.Encode(aggs)
			})
		}),
	}
}

func newResourceTemplateCmd(flags *rootFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "template <id>",
		Short: "Write an import template pre-filled with a resource's contents",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			tmpl, err := a.svc.ImportTemplate(cmd.Context(), a.principal, args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(tmpl, "", "  ")
			if err != nil {
				return err
			}
			if out == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			return os.WriteFile(out, append(data, '\n'), 0o644)
		}),
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the template to this file instead of stdout")
	return cmd
}
