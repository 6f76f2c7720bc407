package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/folio/internal/api"
	"github.com/mesh-intelligence/folio/internal/config"
	"github.com/mesh-intelligence/folio/internal/service"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: "Serve the HTTP API until interrupted. Requests authenticate with HS256 bearer\n" +
			"tokens signed with http.jwt_secret (see \"folio token\"); requests without a\n" +
			"token act as the anonymous principal.",
		Args: cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
			if a.cfg.HTTP.JWTSecret == "" {
				return usageError("http.jwt_secret must be set to serve the API (config.yaml or FOLIO_HTTP_JWT_SECRET)")
			}
			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pruneDone := a.startPruner(ctx.Done())
			defer func() { <-pruneDone }()

			auth := api.NewAuth(a.cfg.HTTP.JWTSecret, a.svc, a.log)
			router := api.NewRouter(a.svc, auth, a.log)
			return api.NewServer(addr, router, a.cfg.HTTP.ShutdownTimeout, a.log).Run(ctx)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: http.addr from config)")
	return cmd
}

// startPruner forgets expired tasks and their artifacts every minute until
// done is closed.
func (a *app) startPruner(done <-chan struct{}) <-chan struct{} {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if n := a.svc.PruneTasks(service.DefaultTaskRetention); n > 0 {
					a.log.Debug().Int("pruned", n).Msg("expired tasks pruned")
				}
			}
		}
	}()
	return finished
}

func newTokenCmd(flags *rootFlags) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Issue an API bearer token for a principal",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			p, err := a.svc.PrincipalByUsername(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tok, err := api.IssueToken(a.cfg.HTTP.JWTSecret, p.ID, ttl)
			if err != nil {
				return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
			}
			result := map[string]any{"token": tok, "principalId": p.ID, "expiresIn": ttl.String()}
			return output(cmd, flags, result, func(w io.Writer) {
				fmt.Fprintln(w, tok)
			})
		}),
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
