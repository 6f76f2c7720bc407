// Package cli implements the folio command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/folio/internal/config"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	yamlMode  bool
	as        string
}

// NewRootCmd creates the top-level "folio" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "folio",
		Short: "Manage research resources and their contents on structured texts",
		Long: "folio stores typed research resources attached to the levels of structured texts,\n" +
			"their per-location contents, and their publication lifecycle.",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if flags.jsonMode && flags.yamlMode {
				return usageError("--json and --yaml are mutually exclusive")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: platform config dir, or $FOLIO_CONFIG_DIR)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (default: .folio-db)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVar(&flags.yamlMode, "yaml", false, "output in YAML format")
	root.PersistentFlags().StringVar(&flags.as, "as", "", "act as this username (default: anonymous)")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(flags),
		newServeCmd(flags),
		newTokenCmd(flags),
		newUserCmd(flags),
		newTextCmd(flags),
		newTypesCmd(flags),
		newResourceCmd(flags),
		newContentCmd(flags),
		newImportCmd(flags),
		newExportCmd(flags),
		newMaintenanceCmd(flags),
		newSearchCmd(flags),
		newDumpCmd(flags),
		newRestoreCmd(flags),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run executes the CLI with args and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitCode(err)
}

// errUsage marks errors caused by how the command was invoked.
var errUsage = errors.New("usage")

type cliError struct {
	msg string
}

func (e *cliError) Error() string { return e.msg }
func (e *cliError) Unwrap() error { return errUsage }

func usageError(format string, args ...any) error {
	return &cliError{msg: fmt.Sprintf(format, args...)}
}

// exitCode maps an error to exit code 1 for problems the user can fix and
// 2 for everything else.
func exitCode(err error) int {
	if errors.Is(err, errUsage) {
		return exitUserError
	}
	if types.KindOf(err) != types.KindInternal {
		return exitUserError
	}
	if errors.Is(err, config.ErrInvalidConfig) || isCobraUsage(err) {
		return exitUserError
	}
	return exitSysError
}

// cobraUsagePrefixes start the messages cobra returns for bad invocations.
var cobraUsagePrefixes = []string{
	"unknown command",
	"unknown flag",
	"unknown shorthand flag",
	"accepts ",
	"requires at least",
	"invalid argument",
	"required flag",
}

func isCobraUsage(err error) bool {
	msg := err.Error()
	for _, p := range cobraUsagePrefixes {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}
