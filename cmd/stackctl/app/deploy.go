package app

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"kubemin-stack/cmd/stackctl/app/options"
	"kubemin-stack/pkg/stack/cluster"
	"kubemin-stack/pkg/stack/rollout"
)

func newDeployCommand(o *options.StackOptions) *cobra.Command {
	var buildFirst bool
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Apply the manifest set in dependency order",
		Long: `Apply the manifest set in dependency order. The run waits for the stateful
tier up to --readiness-timeout and then continues; a rejected routing rule is a
warning unless --require-routing is set. The exit status is non-zero only when
the run aborts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := o.ManifestSet()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			runID := uuid.NewString()
			stop, err := startTracing(ctx, o)
			if err != nil {
				return err
			}
			defer stop()

			if buildFirst {
				buildCtx := klog.NewContext(ctx, klog.FromContext(ctx).WithValues("runID", runID))
				if _, err := newBuilder(cmd, o).Build(buildCtx, set); err != nil {
					return err
				}
			}

			client, err := clusterFactory(o, set, cluster.WithRunID(runID), cluster.WithSecretLookup(os.LookupEnv))
			if err != nil {
				return err
			}
			res := rollout.NewController(client, set, rollout.OptionsFromConfig(o.Config, runID)).Run(ctx)
			printResult(cmd, res)
			if !res.Succeeded() {
				return fmt.Errorf("deploy aborted at %s: %w", res.FailedStep, res.Err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&buildFirst, "build", false, "Run build-images before the rollout.")
	return cmd
}

func printResult(cmd *cobra.Command, res *rollout.Result) {
	out := cmd.OutOrStdout()
	for _, id := range res.Submitted {
		fmt.Fprintf(out, "applied %s\n", id)
	}
	for _, w := range res.Warnings {
		color.New(color.FgYellow).Fprintf(out, "WARN ")
		fmt.Fprintln(out, w.Error())
	}
	if res.Succeeded() {
		color.New(color.FgGreen).Fprintln(out, res.String())
	} else {
		color.New(color.FgRed).Fprintln(out, res.String())
	}
}
