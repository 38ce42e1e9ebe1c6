package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"fleur-q/internal/agent"
	"fleur-q/internal/client"
)

func (a *app) agentCmd() *cobra.Command {
	var (
		id       string
		once     bool
		dryRun   bool
		keep     bool
		interval time.Duration
		workdir  string
	)
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run queued jobs and report their results",
		Long: `Poll the daemon for queued jobs, run the code of each job in its own
working directory and report exit status and output files back. With
--dry-run nothing is executed and every inpgen job answers with a
placeholder inp.xml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = a.cfg.Agent.ID
			}
			if id == "" {
				host, err := os.Hostname()
				if err != nil {
					return err
				}
				id = "agent-" + host
			}
			if interval <= 0 {
				interval = a.cfg.Agent.Interval
			}
			if workdir == "" {
				workdir = a.cfg.Agent.WorkDir
			}

			var queue agent.Queue
			if a.local {
				svc, err := a.openService()
				if err != nil {
					return err
				}
				queue = svc
			} else {
				queue = client.New(a.cfg.Client.URL, a.cfg.Client.Timeout)
			}

			var exec agent.Executor = &agent.Shell{WorkDir: workdir, Keep: keep}
			if dryRun {
				exec = agent.DryRun{}
			}
			ag := agent.New(id, queue, exec, a.logger.With("agent", id))
			ag.Interval = interval

			a.logger.Info("agent started", "id", id, "once", once, "dry_run", dryRun)
			n, err := ag.Run(cmd.Context(), once)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s jobs\n",
				successStyle.Render("Processed"), valueStyle.Render(fmt.Sprint(n)))
			return err
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "agent identifier (default agent.id or agent-<hostname>)")
	cmd.Flags().BoolVar(&once, "once", false, "exit once the queue is empty")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "answer jobs without running any code")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep job working directories")
	cmd.Flags().DurationVar(&interval, "interval", 0, "pause between polls of an empty queue (default agent.interval)")
	cmd.Flags().StringVar(&workdir, "workdir", "", "parent of job working directories (default agent.workdir)")
	return cmd
}
