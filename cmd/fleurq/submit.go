package main

import (
	"github.com/spf13/cobra"

	"fleur-q/internal/logging"
	"fleur-q/internal/plan"
	"fleur-q/internal/submit"
	"fleur-q/pkg/digest"
)

func (a *app) submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <plan> [plan...]",
		Short: "Submit the jobs described by one or more plans",
		Long: `Submit the jobs described by each plan, in order.

Every node a plan names is resolved before anything is submitted; an unknown
identifier aborts the plan with nothing sent. One line is printed per
submitted job, carrying its PK. The first failed submission stops the run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logging.FromContext(ctx)

			plans := make([]*plan.Plan, 0, len(args))
			for _, path := range args {
				p, err := plan.Load(path)
				if err != nil {
					return err
				}
				sum, err := digest.File(path)
				if err != nil {
					return err
				}
				logger.Debug("plan loaded", "path", path, "sha256", sum[:12], "process", p.Process, "jobs", p.Jobs())
				plans = append(plans, p)
			}

			eng, err := a.backend()
			if err != nil {
				return err
			}
			runner := submit.NewRunner(eng, cmd.OutOrStdout())
			for i, p := range plans {
				if _, err := runner.Run(ctx, p); err != nil {
					logger.Error("plan aborted", "path", args[i], "err", err)
					return err
				}
			}
			return nil
		},
	}
}
