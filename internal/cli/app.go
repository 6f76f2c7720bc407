package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/folio/internal/config"
	"github.com/mesh-intelligence/folio/internal/paths"
	"github.com/mesh-intelligence/folio/internal/resourcetypes"
	"github.com/mesh-intelligence/folio/internal/search"
	"github.com/mesh-intelligence/folio/internal/service"
	"github.com/mesh-intelligence/folio/internal/store"
	"github.com/mesh-intelligence/folio/internal/tasks"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// app is the wired folio stack for one command invocation.
type app struct {
	cfg       *config.Config
	configDir string
	dataDir   string
	log       zerolog.Logger
	backend   *store.Backend
	runner    *tasks.Runner
	svc       *service.Service
	principal types.Principal
}

// loadConfig resolves the config directory and data directory and loads
// config.yaml.
func loadConfig(flags *rootFlags) (*config.Config, string, string, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return nil, "", "", fmt.Errorf("resolve config dir: %w", err)
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, "", "", err
	}
	dataDir, err := paths.ResolveDataDir(flags.dataDir, cfg.DataDir)
	if err != nil {
		return nil, "", "", fmt.Errorf("resolve data dir: %w", err)
	}
	return cfg, configDir, dataDir, nil
}

// openApp attaches the store and builds the service. The caller must
// close the app.
func openApp(cmd *cobra.Command, flags *rootFlags) (*app, error) {
	cfg, configDir, dataDir, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	log, err := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	tempDir, err := cfg.TempDir(dataDir)
	if err != nil {
		return nil, err
	}

	backend := store.NewBackend(log)
	if err := backend.Attach(cmd.Context(), cfg.Store(dataDir)); err != nil {
		return nil, fmt.Errorf("attach backend: %w", err)
	}
	reg, err := resourcetypes.NewRegistry()
	if err != nil {
		backend.Detach()
		return nil, err
	}
	runner := tasks.NewRunner(cfg.Tasks.Concurrency, log)
	svc := service.New(backend, reg, search.NewMemory(), runner, nil, service.Options{
		MaxResourcesPerUser: cfg.MaxResourcesPerUser,
		TempDir:             tempDir,
		PrincipalCacheSize:  cfg.Cache.Size,
		PrincipalCacheTTL:   cfg.Cache.TTL,
	}, log)

	a := &app{
		cfg:       cfg,
		configDir: configDir,
		dataDir:   dataDir,
		log:       log,
		backend:   backend,
		runner:    runner,
		svc:       svc,
		principal: types.AnonymousPrincipal,
	}
	if flags.as != "" {
		p, err := svc.PrincipalByUsername(cmd.Context(), flags.as)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("--as %s: %w", flags.as, err)
		}
		a.principal = p
	}
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.runner.Close(ctx); err != nil {
		a.log.Warn().Err(err).Msg("closing task runner")
	}
	if err := a.backend.Detach(); err != nil {
		a.log.Warn().Err(err).Msg("detaching store")
	}
}

// withApp runs fn against an opened app.
func withApp(flags *rootFlags, fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, flags)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, a, args)
	}
}

// readInput reads a JSON or YAML file, or stdin for "-", and returns it
// re-encoded as JSON.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, usageError("reading %s: %v", path, err)
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", types.ErrValidation, path, err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a JSON-compatible document: %v", types.ErrValidation, path, err)
	}
	return out, nil
}

// readDocument reads a file as a generic document.
func readDocument(cmd *cobra.Command, path string) (map[string]any, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s must hold an object", types.ErrValidation, path)
	}
	return doc, nil
}

// output writes v as JSON or YAML when requested, and otherwise calls
// human.
func output(cmd *cobra.Command, flags *rootFlags, v any, human func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	switch {
	case flags.jsonMode:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case flags.yamlMode:
		// Round trip through JSON so field names follow the json tags.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	}
	human(w)
	return nil
}
