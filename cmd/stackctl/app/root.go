package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/term"
	"k8s.io/klog/v2"

	"kubemin-stack/cmd/stackctl/app/options"
	"kubemin-stack/pkg/stack/build"
	"kubemin-stack/pkg/stack/cluster"
	"kubemin-stack/pkg/stack/manifest"
	"kubemin-stack/pkg/stack/runner"
	"kubemin-stack/pkg/tracing"
)

// NewStackctlCommand creates the stackctl root command with its subcommands
func NewStackctlCommand() *cobra.Command {
	o := options.NewStackOptions()

	cmd := &cobra.Command{
		Use:   "stackctl",
		Short: "Build and roll out the CRUD reference stack onto Kubernetes",
		Long: `stackctl builds the container images of the reference stack and applies its
manifest set in dependency order: namespace, secrets and config, the stateful
tier (with a bounded readiness wait), the stateless tiers and the routing rule.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd.Flags()); err != nil {
				return err
			}
			return o.Validate()
		},
		SilenceUsage: true,
	}

	namedFlagSets := o.Flags()
	fs := cmd.PersistentFlags()
	for _, set := range namedFlagSets.FlagSets {
		fs.AddFlagSet(set)
	}
	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedFlagSets, cols)

	cmd.AddCommand(
		newBuildImagesCommand(o),
		newDeployCommand(o),
		newVerifyCommand(o),
		newRenderCommand(o),
	)
	return cmd
}

// newRunContext attaches a fresh run ID to the logger in ctx.
func newRunContext(ctx context.Context) (context.Context, string) {
	runID := uuid.NewString()
	logger := klog.FromContext(ctx).WithValues("runID", runID)
	return klog.NewContext(ctx, logger), runID
}

// startTracing installs the tracer provider when tracing is enabled. The
// returned function is always safe to call.
func startTracing(ctx context.Context, o *options.StackOptions) (func(), error) {
	if !o.Config.EnableTracing {
		return func() {}, nil
	}
	shutdown, err := tracing.InitTracerProvider(ctx, "stackctl", o.Config.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracer provider: %w", err)
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			klog.ErrorS(err, "Failed to shutdown tracer provider")
		}
	}, nil
}

// runnerFactory and clusterFactory are replaced in tests.
var runnerFactory = func() runner.CommandRunner { return runner.NewExecRunner() }

var clusterFactory = func(o *options.StackOptions, set *manifest.Set, opts ...cluster.Option) (cluster.Client, error) {
	cs, err := cluster.NewClientset(o.Config)
	if err != nil {
		return nil, err
	}
	return cluster.NewKubeClient(cs, set, opts...), nil
}

func newBuilder(cmd *cobra.Command, o *options.StackOptions) *build.Builder {
	return build.NewBuilder(runnerFactory(), o.Config.BuildTool, cmd.OutOrStdout())
}
