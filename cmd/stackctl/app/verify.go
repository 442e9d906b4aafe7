package app

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"kubemin-stack/cmd/stackctl/app/options"
	"kubemin-stack/pkg/stack/cluster"
	"kubemin-stack/pkg/stack/manifest"
	"kubemin-stack/pkg/stack/verify"
)

func newVerifyCommand(o *options.StackOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the tooling and report which resources of the stack exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := o.ManifestSet()
			if err != nil {
				return err
			}
			ctx, _ := newRunContext(cmd.Context())

			var client cluster.Client
			client, err = clusterFactory(o, set)
			if err != nil {
				client = unreachable{err: err}
			}
			report := verify.NewVerifier(newBuilder(cmd, o), client, set).Run(ctx)
			report.Write(cmd.OutOrStdout())
			if !report.OK() {
				return errors.New("verify: required checks failed")
			}
			return nil
		},
	}
}

// unreachable stands in for a cluster whose kubeconfig could not be loaded,
// so verify still reports the remaining checks.
type unreachable struct{ err error }

func (u unreachable) Ping(context.Context) error { return u.err }
func (u unreachable) Apply(context.Context, manifest.Resource) error {
	return u.err
}
func (u unreachable) Ready(context.Context, *manifest.ServiceUnit) (bool, error) {
	return false, u.err
}
func (u unreachable) Exists(context.Context, manifest.Resource) (bool, error) {
	return false, u.err
}
