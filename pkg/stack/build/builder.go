package build

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"k8s.io/klog/v2"

	"kubemin-stack/pkg/stack/manifest"
	"kubemin-stack/pkg/stack/runner"
	"kubemin-stack/pkg/stack/stackerr"
)

const (
	StepPrecheck = "PrecheckBuildTool"
	StepBuild    = "BuildImage"
)

// Image is a locally tagged image produced for one unit.
type Image struct {
	Unit string
	Ref  string
}

// Builder turns the build specs of a manifest set into local images.
type Builder struct {
	runner runner.CommandRunner
	tool   string
	out    io.Writer
}

func NewBuilder(r runner.CommandRunner, tool string, out io.Writer) *Builder {
	if out == nil {
		out = io.Discard
	}
	return &Builder{runner: r, tool: tool, out: out}
}

// Tool returns the build tool command name.
func (b *Builder) Tool() string { return b.tool }

// Precheck fails with ToolingUnavailable when the build tool is not on PATH.
func (b *Builder) Precheck(ctx context.Context) error {
	path, err := b.runner.LookPath(b.tool)
	if err != nil {
		return stackerr.NewToolingUnavailable(StepPrecheck, fmt.Errorf("%s not found in PATH: %w", b.tool, err))
	}
	klog.FromContext(ctx).V(2).Info("Build tool found", "tool", b.tool, "path", path)
	return nil
}

// DaemonReachable asks the build tool for daemon info.
func (b *Builder) DaemonReachable(ctx context.Context) error {
	res, err := b.runner.Run(ctx, b.tool, "info")
	if err != nil {
		return fmt.Errorf("%s daemon unreachable (exit %d): %w", b.tool, res.ExitCode, err)
	}
	return nil
}

// Command returns the build invocation for a unit.
func (b *Builder) Command(u *manifest.ServiceUnit) []string {
	dockerfile := u.Build.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	if !filepath.IsAbs(dockerfile) {
		dockerfile = filepath.Join(u.Build.Context, dockerfile)
	}
	args := []string{b.tool, "build", "-f", dockerfile, "-t", u.Image}
	keys := make([]string, 0, len(u.Build.Args))
	for k := range u.Build.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, u.Build.Args[k]))
	}
	return append(args, u.Build.Context)
}

// Build builds every unit that has a build spec, in declaration order, and
// stops at the first failure.
func (b *Builder) Build(ctx context.Context, set *manifest.Set) ([]Image, error) {
	ctx, span := otel.Tracer("stackctl").Start(ctx, "build-images")
	defer span.End()
	logger := klog.FromContext(ctx)

	if err := b.Precheck(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var images []Image
	for _, u := range set.Units {
		if u.Build == nil {
			logger.V(2).Info("Skipping unit without build spec", "unit", u.Name)
			continue
		}
		color.New(color.FgBlue).Fprintf(b.out, "Building %s (%s)...\n", u.Name, u.Image)
		logger.Info("Building image", "unit", u.Name, "image", u.Image, "context", u.Build.Context)

		res, err := b.runner.Run(ctx, b.Command(u)...)
		if err != nil {
			color.New(color.FgRed).Fprintf(b.out, "✘ %s failed\n", u.Name)
			buildErr := stackerr.NewBuildFailure(StepBuild, u.Name, res.ExitCode, res.Output, err)
			span.RecordError(buildErr)
			span.SetAttributes(attribute.String("failed.unit", u.Name))
			return images, buildErr
		}
		color.New(color.FgGreen).Fprintf(b.out, "✓ %s\n", u.Image)
		images = append(images, Image{Unit: u.Name, Ref: u.Image})
	}
	span.SetAttributes(attribute.Int("images", len(images)))
	return images, nil
}
