package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/folio/internal/service"
	"github.com/mesh-intelligence/folio/internal/store"
	"github.com/mesh-intelligence/folio/pkg/types"
)

func newUserCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage principals",
	}

	var superuser bool
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Register a principal",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			p, err := a.svc.CreatePrincipal(cmd.Context(), args[0], superuser)
			if err != nil {
				return err
			}
			return output(cmd, flags, p, func(w io.Writer) {
				fmt.Fprintf(w, "created %s (%s)\n", p.Username, p.ID)
			})
		}),
	}
	add.Flags().BoolVar(&superuser, "superuser", false, "grant superuser rights")

	list := &cobra.Command{
		Use:   "list",
		Short: "List principals",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
			ps, err := a.svc.Principals(cmd.Context())
			if err != nil {
				return err
			}
			return output(cmd, flags, ps, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tUSERNAME\tSUPERUSER")
				for _, p := range ps {
					fmt.Fprintf(tw, "%s\t%s\t%t\n", p.ID, p.Username, p.Superuser)
				}
				tw.Flush()
			})
		}),
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newTextCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "text",
		Short: "Manage texts",
	}

	add := &cobra.Command{
		Use:   "add <file>",
		Short: "Create a text and its locations from a JSON or YAML file (superuser)",
		Long: "Create a text from a document with slug, title, levels and a nested\n" +
			"locations tree, e.g.\n\n" +
			"  slug: faust\n  title: Faust\n  levels: [Part, Verse]\n" +
			"  locations:\n    - label: I\n      children: [{label: \"1\"}, {label: \"2\"}]",
		Args: cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var in service.TextInput
			if err := json.Unmarshal(data, &in); err != nil {
				return fmt.Errorf("%w: %v", types.ErrValidation, err)
			}
			text, err := a.svc.CreateText(cmd.Context(), a.principal, in)
			if err != nil {
				return err
			}
			return output(cmd, flags, text, func(w io.Writer) {
				fmt.Fprintf(w, "created text %s (%s)\n", text.Slug, text.ID)
			})
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List texts",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
			texts, err := a.svc.Texts(cmd.Context())
			if err != nil {
				return err
			}
			return output(cmd, flags, texts, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSLUG\tTITLE\tLEVELS")
				for _, t := range texts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Slug, t.Title, strings.Join(t.Levels, " > "))
				}
				tw.Flush()
			})
		}),
	}

	var level int
	locations := &cobra.Command{
		Use:   "locations <text-id>",
		Short: "List the locations of a text on one level",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			locs, labels, err := a.svc.Locations(cmd.Context(), args[0], level)
			if err != nil {
				return err
			}
			type row struct {
				*types.Location
				FullLabel string `json:"fullLabel"`
			}
			rows := make([]row, len(locs))
			for i, l := range locs {
				rows[i] = row{Location: l, FullLabel: labels[l.ID]}
			}
			return output(cmd, flags, rows, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tPOSITION\tLABEL")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", r.ID, r.Position, r.FullLabel)
				}
				tw.Flush()
			})
		}),
	}
	locations.Flags().IntVar(&level, "level", 0, "structure level")

	cmd.AddCommand(add, list, locations)
	return cmd
}

func newTypesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List resource types, their views and export formats",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
			infos := a.svc.ResourceTypes()
			return output(cmd, flags, infos, func(w io.Writer) {
				for _, info := range infos {
					formats := make([]string, len(info.ExportFormats))
					for i, f := range info.ExportFormats {
						formats[i] = f.Key
					}
					fmt.Fprintf(w, "%s\texport: %s\n", info.Key, strings.Join(formats, ", "))
				}
			})
		}),
	}
}

func newMaintenanceCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "Refresh stale precomputed data and search indexes (superuser)",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
			task, err := a.svc.StartMaintenance(cmd.Context(), a.principal)
			if err != nil {
				return err
			}
			done, err := a.runner.Wait(cmd.Context(), task.ID)
			if err != nil {
				return err
			}
			if done.Error != "" {
				return fmt.Errorf("maintenance %s: %s", done.Status, done.Error)
			}
			report, _ := done.Result.(*service.MaintenanceReport)
			return output(cmd, flags, report, func(w io.Writer) {
				fmt.Fprintf(w, "coverage refreshed:     %d\n", report.Coverage)
				fmt.Fprintf(w, "aggregations refreshed: %d\n", report.Aggregations)
				fmt.Fprintf(w, "texts reindexed:        %d\n", report.Reindexed)
				fmt.Fprintf(w, "tasks pruned:           %d\n", report.PrunedTasks)
			})
		}),
	}
}

func newSearchCmd(flags *rootFlags) *cobra.Command {
	var (
		textID string
		query  string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "search <resource-type>",
		Short: "Search the contents of readable resources of one type",
		Example: `  folio search plainText --query '{"text": "faust"}'
  folio search textAnnotation --query '{"token": "Haus", "annotations": [{"key": "pos", "value": "NOUN"}]}'`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			q := map[string]any{}
			if query != "" {
				if err := json.Unmarshal([]byte(query), &q); err != nil {
					return usageError("--query must be a JSON object: %v", err)
				}
			}
			hits, err := a.svc.Search(cmd.Context(), a.principal, service.SearchRequest{
				TextID:       textID,
				ResourceType: args[0],
				Query:        q,
				Limit:        limit,
			})
			if err != nil {
				return err
			}
			return output(cmd, flags, hits, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CONTENT\tRESOURCE\tLOCATION\tPOSITION")
				for _, h := range hits {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", h.ContentID, h.ResourceID, h.LocationID, h.Position)
				}
				tw.Flush()
			})
		}),
	}
	cmd.Flags().StringVar(&textID, "text", "", "restrict to one text")
	cmd.Flags().StringVar(&query, "query", "", "type-specific query as a JSON object")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of hits")
	return cmd
}

func newDumpCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <dir>",
		Short: "Write every stored record to JSONL files",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			stats, err := store.Dump(cmd.Context(), a.backend, args[0])
			if err != nil {
				return err
			}
			return output(cmd, flags, stats, printStats(stats))
		}),
	}
}

func newRestoreCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <dir>",
		Short: "Check and load JSONL files written by dump into an empty store",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			stats, err := store.Restore(cmd.Context(), a.backend, args[0], a.svc.Registry().CheckStored)
			if err != nil {
				return err
			}
			return output(cmd, flags, stats, printStats(stats))
		}),
	}
}

func printStats(stats store.DumpStats) func(io.Writer) {
	return func(w io.Writer) {
		for _, table := range types.StandardTableNames {
			if n, ok := stats[table]; ok {
				fmt.Fprintf(w, "%-12s %d\n", table, n)
			}
		}
	}
}
