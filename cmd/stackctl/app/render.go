package app

import (
	"os"

	"github.com/spf13/cobra"

	"kubemin-stack/cmd/stackctl/app/options"
	"kubemin-stack/pkg/stack/manifest"
)

func newRenderCommand(o *options.StackOptions) *cobra.Command {
	var showSecrets bool
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the manifest set as Kubernetes YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := o.ManifestSet()
			if err != nil {
				return err
			}
			objs, err := set.Render(os.LookupEnv, !showSecrets)
			if err != nil {
				return err
			}
			out, err := manifest.RenderYAML(objs)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print secret values instead of a placeholder.")
	return cmd
}
