package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newInitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize folio storage",
		Long: "Create the configuration directory with a default config.yaml, then attach the\n" +
			"storage backend once so the schema is migrated to the latest version.",
		Args: cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
			result := map[string]string{
				"configDir": a.configDir,
				"dataDir":   a.dataDir,
				"backend":   a.cfg.Backend,
			}
			return output(cmd, flags, result, func(w io.Writer) {
				fmt.Fprintln(w, "folio initialized successfully")
				fmt.Fprintln(w, "  config: ", a.configDir)
				fmt.Fprintln(w, "  data:   ", a.dataDir)
				fmt.Fprintln(w, "  backend:", a.cfg.Backend)
			})
		}),
	}
}
