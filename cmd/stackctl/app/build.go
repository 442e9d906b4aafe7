package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"kubemin-stack/cmd/stackctl/app/options"
)

func newBuildImagesCommand(o *options.StackOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "build-images",
		Short: "Build a local image for every unit that has a source tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := o.ManifestSet()
			if err != nil {
				return err
			}
			ctx, _ := newRunContext(cmd.Context())
			stop, err := startTracing(ctx, o)
			if err != nil {
				return err
			}
			defer stop()

			images, err := newBuilder(cmd, o).Build(ctx, set)
			if err != nil {
				return err
			}
			for _, img := range images {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", img.Unit, img.Ref)
			}
			klog.FromContext(ctx).Info("Images built", "count", len(images))
			return nil
		},
	}
}
