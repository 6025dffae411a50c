// Package cli is procio's command-line front end, adapted from the
// teacher's internal/cli/root.go: a cobra root command, persistent
// flags, and signal.NotifyContext-driven shutdown.
package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lattice-run/procio"
	httpapi "github.com/lattice-run/procio/internal/api/http"
	"github.com/lattice-run/procio/internal/tui"
)

func newRootCommand() *cobra.Command {
	var configPath string
	var threads int

	root := &cobra.Command{
		Use:   "procio",
		Short: "Spawn and multiplex child process I/O over a fixed thread pool",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().IntVar(&threads, "threads", 0, "override the processor pool size")

	ctx := &cliContext{configPath: &configPath, threads: &threads}
	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newWatchCmd(ctx))
	root.AddCommand(newServeCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true
	return root
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type cliContext struct {
	configPath *string
	threads    *int
}

func (c *cliContext) loadConfig() (procio.Config, error) {
	if *c.configPath == "" {
		cfg := procio.DefaultConfig()
		c.applyOverrides(&cfg)
		return cfg, nil
	}
	cfg, err := procio.LoadConfig(*c.configPath)
	if err != nil {
		return procio.Config{}, err
	}
	c.applyOverrides(&cfg)
	return cfg, nil
}

func (c *cliContext) applyOverrides(cfg *procio.Config) {
	if *c.threads > 0 {
		cfg.Threads = *c.threads
	}
}

func newRunCmd(cctx *cliContext) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "Spawn a child process and stream its stdout/stderr until it exits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cctx.loadConfig()
			if err != nil {
				return err
			}
			pool := procio.NewPool(cfg.Threads, cfg)
			defer pool.Close()

			handler := &streamHandler{}
			p, err := pool.Spawn(procio.ProcessConfig{Argv: args, Env: os.Environ(), Dir: dir}, handler)
			if err != nil {
				return err
			}

			restore := passthroughStdin(p)
			defer restore()

			result, err := p.WaitFor(0)
			if err != nil {
				return err
			}
			if result.Code != 0 {
				os.Exit(result.Code)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "working directory for the child process")
	return cmd
}

func newWatchCmd(cctx *cliContext) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "watch -- <command> [args...]",
		Short: "Spawn a child process and show its processor diagnostics live",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cctx.loadConfig()
			if err != nil {
				return err
			}
			pool := procio.NewPool(cfg.Threads, cfg)
			defer pool.Close()

			ui := tui.New(tui.WithTitle(args[0]))
			ui.Consume(pool.Diagnostics())

			p, err := pool.Spawn(procio.ProcessConfig{Argv: args, Env: os.Environ(), Dir: dir}, &streamHandler{})
			if err != nil {
				return err
			}
			go func() {
				p.WaitFor(0)
				ui.Stop()
			}()

			return ui.Run()
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "working directory for the child process")
	return cmd
}

func newServeCmd(cctx *cliContext) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /metrics and /healthz for the default pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cctx.loadConfig()
			if err != nil {
				return err
			}
			pool := procio.NewPool(cfg.Threads, cfg)
			defer pool.Close()

			srv, err := httpapi.NewServer(httpapi.Config{Addr: addr, Controller: pool})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "procio: serving on %s\n", srv.Addr())
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address for the HTTP server")
	return cmd
}
