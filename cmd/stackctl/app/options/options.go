package options

import (
	"flag"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/klog/v2"

	"kubemin-stack/pkg/stack/config"
	"kubemin-stack/pkg/stack/manifest"
)

// StackOptions contains everything necessary to build, deploy and verify the stack
type StackOptions struct {
	Config *config.Config
}

// NewStackOptions creates a new StackOptions object with default parameters
func NewStackOptions() *StackOptions {
	return &StackOptions{Config: config.NewConfig()}
}

// Flags returns the complete NamedFlagSets
func (o *StackOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.Config.AddFlags(fss.FlagSet("generic"), config.NewConfig())
	local := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(local)
	fss.FlagSet("klog").AddGoFlagSet(local)
	return fss
}

// Complete fills unset flags from the config file and environment.
func (o *StackOptions) Complete(fs *pflag.FlagSet) error {
	return o.Config.Load(fs)
}

// Validate checks the configuration.
func (o *StackOptions) Validate() error {
	return utilerrors.NewAggregate(o.Config.Validate())
}

// ManifestSet builds and validates the stack described by the configuration.
func (o *StackOptions) ManifestSet() (*manifest.Set, error) {
	c := o.Config
	set := manifest.Default(manifest.Options{
		Namespace:      c.Namespace,
		ImageTag:       c.ImageTag,
		ImageOverrides: c.ImageOverrides,
		Replicas:       c.Replicas,
		SourceRoot:     c.SourceRoot,
		APIBaseURL:     c.APIBaseURL,
		IngressHost:    c.IngressHost,
		IngressClass:   c.IngressClass,
	})

	names := make([]string, 0, len(c.ImageOverrides)+len(c.Replicas))
	for name := range c.ImageOverrides {
		names = append(names, name)
	}
	for name := range c.Replicas {
		names = append(names, name)
	}
	if unknown := set.UnknownUnits(names); len(unknown) > 0 {
		return nil, fmt.Errorf("unknown units in overrides: %s (known: %s)", strings.Join(dedup(unknown), ", "), strings.Join(unitNames(set), ", "))
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

func unitNames(set *manifest.Set) []string {
	names := make([]string, 0, len(set.Units))
	for _, u := range set.Units {
		names = append(names, u.Name)
	}
	sort.Strings(names)
	return names
}

func dedup(sorted []string) []string {
	var out []string
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}
