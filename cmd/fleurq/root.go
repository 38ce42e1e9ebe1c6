package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleur-q/internal/client"
	"fleur-q/internal/config"
	"fleur-q/internal/engine"
	"fleur-q/internal/logging"
	"fleur-q/internal/node"
	"fleur-q/internal/provenance"
	"fleur-q/internal/security"
	"fleur-q/internal/storage"
	"fleur-q/internal/submit"
)

// backend is what node and submit commands need from an engine, local or remote.
type backend interface {
	submit.Engine
	CreateNode(ctx context.Context, n *node.Node) (*node.Node, error)
	Process(ctx context.Context, pk int64) (*node.Node, error)
	Files(ctx context.Context, ref node.Ref) ([]string, error)
}

// app carries state shared by all commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	local   bool

	cfg    *config.Config
	logger *log.Logger
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: config.New(), stderr: stderr}

	root := &cobra.Command{
		Use:   "fleurq",
		Short: "Submit FLEUR calculations and workchains to a workflow engine",
		Long: titleStyle.Render("fleurq") + subtitleStyle.Render(" - submit FLEUR jobs from declarative plans") + `

A plan names the process to submit (fleur.inpgen, fleur.fleur or
fleur.ssdisp), the stored nodes feeding its ports, and the parameter and
resource records to build. fleurq resolves every node, assembles one input
bundle per job and prints one line per submitted job.

` + subtitleStyle.Render("Examples:") + `
  fleurq serve                         Run the engine daemon
  fleurq agent --once                  Run every queued job, then exit
  fleurq submit plans/si_inpgen.yaml   Submit one inpgen job
  fleurq node show 21.outputs.fleurinp Show the fleurinp produced by job 21
  fleurq ledger verify                 Check the provenance ledger`,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	flags.BoolVar(&a.local, "local", false, "use the local data directory instead of a daemon")
	flags.String("url", "", "daemon URL")
	flags.String("log-level", "", "debug, info, warn or error")
	_ = a.v.BindPFlag("client.url", flags.Lookup("url"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))

	root.AddCommand(
		a.submitCmd(),
		a.nodeCmd(),
		a.kindsCmd(),
		a.ledgerCmd(),
		a.keysCmd(),
		a.serveCmd(),
		a.agentCmd(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(a.stderr, cfg.Log.Level, cfg.Log.Format, config.AppName)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.WithLogger(ctx, logger))
	return nil
}

// openService opens the ledger, repository and keys named by the server config.
func (a *app) openService() (*engine.Service, error) {
	keys, created, err := security.Ensure(a.cfg.Server.KeysDir)
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	if created {
		a.logger.Info("generated signing keys", "dir", a.cfg.Server.KeysDir)
	}
	ledger, err := provenance.OpenLedger(a.cfg.Server.Ledger)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	repo := storage.NewRepository(filepath.Clean(a.cfg.Server.Repository))
	return engine.New(ledger, repo, keys, a.logger)
}

func (a *app) backend() (backend, error) {
	if a.local {
		svc, err := a.openService()
		if err != nil {
			return nil, err
		}
		return svc, nil
	}
	return client.New(a.cfg.Client.URL, a.cfg.Client.Timeout), nil
}
