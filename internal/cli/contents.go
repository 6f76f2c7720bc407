package cli

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/folio/internal/service"
	"github.com/mesh-intelligence/folio/pkg/types"
)

func contentTable(w io.Writer, cs []*types.Content) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRESOURCE\tLOCATION\tTYPE")
	for _, c := range cs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.ResourceID, c.LocationID, c.ResourceType)
	}
	tw.Flush()
}

func printContent(c *types.Content) func(io.Writer) {
	return func(w io.Writer) {
		fmt.Fprintf(w, "ID:       %s\n", c.ID)
		fmt.Fprintf(w, "Resource: %s\n", c.ResourceID)
		fmt.Fprintf(w, "Location: %s\n", c.LocationID)
		fmt.Fprintf(w, "Type:     %s\n", c.ResourceType)
		for _, k := range slices.Sorted(maps.Keys(c.Fields)) {
			fmt.Fprintf(w, "  %s: %v\n", k, c.Fields[k])
		}
	}
}

func newContentCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Manage the contents of resources",
	}

	create := &cobra.Command{
		Use:   "create <file>",
		Short: "Create a content from a JSON or YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			doc, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			c, err := a.svc.CreateContent(cmd.Context(), a.principal, doc)
			if err != nil {
				return err
			}
			return output(cmd, flags, c, printContent(c))
		}),
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a content",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			c, err := a.svc.GetContent(cmd.Context(), a.principal, args[0])
			if err != nil {
				return err
			}
			return output(cmd, flags, c, printContent(c))
		}),
	}

	update := &cobra.Command{
		Use:   "update <id> <file>",
		Short: "Apply a partial update document to a content",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			doc, err := readDocument(cmd, args[1])
			if err != nil {
				return err
			}
			c, err := a.svc.UpdateContent(cmd.Context(), a.principal, args[0], doc)
			if err != nil {
				return err
			}
			return output(cmd, flags, c, printContent(c))
		}),
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a content",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.svc.DeleteContent(cmd.Context(), a.principal, args[0]); err != nil {
				return err
			}
			return output(cmd, flags, map[string]string{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "deleted %s\n", args[0])
			})
		}),
	}

	var q service.ContentQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List contents of readable resources",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
			cs, err := a.svc.FindContents(cmd.Context(), a.principal, q)
			if err != nil {
				return err
			}
			return output(cmd, flags, cs, func(w io.Writer) { contentTable(w, cs) })
		}),
	}
	list.Flags().StringSliceVar(&q.ResourceIDs, "resource", nil, "filter by resource IDs")
	list.Flags().StringSliceVar(&q.LocationIDs, "location", nil, "filter by location IDs")
	list.Flags().IntVar(&q.Limit, "limit", 0, "maximum number of contents")

	var from, to int
	rng := &cobra.Command{
		Use:   "range <resource-id>",
		Short: "List a resource's contents between two location positions",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			var fromPtr, toPtr *int
			if cmd.Flags().Changed("from") {
				fromPtr = &from
			}
			if cmd.Flags().Changed("to") {
				toPtr = &to
			}
			cs, err := a.svc.ContentRange(cmd.Context(), a.principal, args[0], fromPtr, toPtr)
			if err != nil {
				return err
			}
			return output(cmd, flags, cs, func(w io.Writer) { contentTable(w, cs) })
		}),
	}
	rng.Flags().IntVar(&from, "from", 0, "first location position")
	rng.Flags().IntVar(&to, "to", 0, "last location position")

	cmd.AddCommand(create, get, update, del, list, rng)
	return cmd
}

func newImportCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <resource-id> <file>",
		Short: "Create or update a resource's contents from an import document",
		Long: "Import contents from a document shaped like the output of \"folio resource template\".\n" +
			"Records with an id update that content, records without one create a content.",
		Args: cobra.ExactArgs(2),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			data, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			res, err := a.svc.ImportContents(cmd.Context(), a.principal, args[0], data)
			if err != nil {
				return err
			}
			return output(cmd, flags, res, func(w io.Writer) {
				fmt.Fprintf(w, "created %d, updated %d, errors %d\n", res.Created, res.Updated, res.Errors)
			})
		}),
	}
}

func newExportCmd(flags *rootFlags) *cobra.Command {
	var (
		req service.ExportRequest
		out string
	)
	cmd := &cobra.Command{
		Use:   "export <resource-id>",
		Short: "Render a resource's contents in an export format",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			art, err := a.svc.ExportContents(cmd.Context(), a.principal, args[0], req)
			if err != nil {
				return err
			}
			defer os.Remove(art.Path)

			src, err := os.Open(art.Path)
			if err != nil {
				return err
			}
			defer src.Close()

			if out == "" {
				_, err = io.Copy(cmd.OutOrStdout(), src)
				return err
			}
			dst, err := os.Create(out)
			if err != nil {
				return err
			}
			if _, err := io.Copy(dst, src); err != nil {
				dst.Close()
				return err
			}
			if err := dst.Close(); err != nil {
				return err
			}
			return output(cmd, flags, art, func(w io.Writer) {
				fmt.Fprintf(w, "wrote %s (%d bytes, blake3 %s)\n", out, art.Size, art.Checksum)
			})
		}),
	}
	cmd.Flags().StringVar(&req.Format, "format", "json", "export format (see \"folio types\")")
	cmd.Flags().StringVar(&req.FromLocationID, "from", "", "first location ID of the range")
	cmd.Flags().StringVar(&req.ToLocationID, "to", "", "last location ID of the range")
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to this file instead of stdout")
	return cmd
}
