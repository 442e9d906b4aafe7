package config

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/util/validation"
)

type Config struct {
	// ConfigFile is an optional YAML file whose keys mirror the flag names.
	ConfigFile string

	// Kubeconfig path; empty falls back to in-cluster or the default loading rules.
	Kubeconfig string
	KubeQPS    float64
	KubeBurst  int

	Namespace      string
	ImageTag       string
	ImageOverrides map[string]string
	Replicas       map[string]int

	SourceRoot string
	BuildTool  string
	APIBaseURL string

	IngressHost  string
	IngressClass string

	ReadinessTimeout  time.Duration
	ReadinessInterval time.Duration
	ApplyTimeout      time.Duration

	// RequireRouting turns a failed routing rule submission into a fatal error.
	RequireRouting bool

	EnableTracing bool
	OTLPEndpoint  string
}

func NewConfig() *Config {
	return &Config{
		KubeQPS:           50,
		KubeBurst:         100,
		Namespace:         DefaultNamespace,
		ImageTag:          DefaultImageTag,
		ImageOverrides:    map[string]string{},
		Replicas:          map[string]int{},
		SourceRoot:        DefaultSourceRoot,
		BuildTool:         DefaultBuildTool,
		APIBaseURL:        DefaultAPIBaseURL,
		IngressClass:      DefaultIngressClass,
		ReadinessTimeout:  ReadinessTimeout,
		ReadinessInterval: ReadinessInterval,
		ApplyTimeout:      ApplyTimeout,
	}
}

func (c *Config) Validate() []error {
	var errs []error
	for _, msg := range validation.IsDNS1123Label(c.Namespace) {
		errs = append(errs, fmt.Errorf("invalid namespace %q: %s", c.Namespace, msg))
	}
	if strings.TrimSpace(c.ImageTag) == "" {
		errs = append(errs, fmt.Errorf("image tag must not be empty"))
	}
	if strings.TrimSpace(c.BuildTool) == "" {
		errs = append(errs, fmt.Errorf("build tool must not be empty"))
	}
	if c.ReadinessTimeout <= 0 {
		errs = append(errs, fmt.Errorf("readiness timeout must be positive, got %v", c.ReadinessTimeout))
	}
	if c.ReadinessInterval <= 0 || c.ReadinessInterval > c.ReadinessTimeout {
		errs = append(errs, fmt.Errorf("readiness interval must be in (0, %v], got %v", c.ReadinessTimeout, c.ReadinessInterval))
	}
	if c.ApplyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("apply timeout must be positive, got %v", c.ApplyTimeout))
	}
	if c.KubeQPS <= 0 || c.KubeBurst <= 0 {
		errs = append(errs, fmt.Errorf("kube qps and burst must be positive"))
	}
	for unit, n := range c.Replicas {
		if n < 1 || n > math.MaxInt32 {
			errs = append(errs, fmt.Errorf("replicas for %s must be in [1, %d], got %d", unit, math.MaxInt32, n))
		}
	}
	if c.EnableTracing && c.OTLPEndpoint != "" && strings.Contains(c.OTLPEndpoint, "://") {
		errs = append(errs, fmt.Errorf("otlp endpoint must be host:port, got %q", c.OTLPEndpoint))
	}
	return errs
}

// AddFlags adds flags to the specified FlagSet
func (c *Config) AddFlags(fs *pflag.FlagSet, defaults *Config) {
	fs.StringVar(&c.ConfigFile, "config", defaults.ConfigFile, "Optional YAML config file; keys are flag names. Flags and STACKCTL_* env vars override it.")
	fs.StringVar(&c.Kubeconfig, "kubeconfig", defaults.Kubeconfig, "Path to the kubeconfig file. Defaults to in-cluster config or $HOME/.kube/config.")
	fs.Float64Var(&c.KubeQPS, "kube-api-qps", defaults.KubeQPS, "The qps for kube clients.")
	fs.IntVar(&c.KubeBurst, "kube-api-burst", defaults.KubeBurst, "The burst for kube clients.")
	fs.StringVar(&c.Namespace, "namespace", defaults.Namespace, "Target namespace for every resource of the stack.")
	fs.StringVar(&c.ImageTag, "tag", defaults.ImageTag, "Tag used for locally built images.")
	fs.StringToStringVar(&c.ImageOverrides, "image", defaults.ImageOverrides, "Image overrides per unit, e.g. --image api=registry/api:1.2.")
	fs.StringToIntVar(&c.Replicas, "replicas", defaults.Replicas, "Replica overrides per unit, e.g. --replicas api=3.")
	fs.StringVar(&c.SourceRoot, "source-root", defaults.SourceRoot, "Directory containing the unit source trees.")
	fs.StringVar(&c.BuildTool, "build-tool", defaults.BuildTool, "Container build CLI.")
	fs.StringVar(&c.APIBaseURL, "api-base-url", defaults.APIBaseURL, "API base URL baked into the web bundle at build time.")
	fs.StringVar(&c.IngressHost, "ingress-host", defaults.IngressHost, "Host for the routing rule; empty matches any host.")
	fs.StringVar(&c.IngressClass, "ingress-class", defaults.IngressClass, "Ingress class name for the routing rule.")
	fs.DurationVar(&c.ReadinessTimeout, "readiness-timeout", defaults.ReadinessTimeout, "How long to wait for the stateful tier before proceeding anyway.")
	fs.DurationVar(&c.ReadinessInterval, "readiness-interval", defaults.ReadinessInterval, "Pause between readiness polls.")
	fs.DurationVar(&c.ApplyTimeout, "apply-timeout", defaults.ApplyTimeout, "Timeout for a single submission to the cluster.")
	fs.BoolVar(&c.RequireRouting, "require-routing", defaults.RequireRouting, "Abort when the routing rule cannot be applied instead of warning.")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", defaults.EnableTracing, "Enable OpenTelemetry tracing of rollout steps.")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", defaults.OTLPEndpoint, "OTLP/gRPC collector host:port. Empty keeps spans local.")
}

// Load fills every flag not set on the command line from STACKCTL_* env vars
// and, when configured, the config file.
func (c *Config) Load(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if c.ConfigFile != "" {
		v.SetConfigFile(c.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", c.ConfigFile, err)
		}
	}

	var errs []string
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == "config" || !v.IsSet(f.Name) {
			return
		}
		if err := fs.Set(f.Name, flagValue(v.Get(f.Name))); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f.Name, err))
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("invalid config values: %s", strings.Join(errs, "; "))
	}
	return nil
}

// flagValue renders a viper value in the textual form pflag expects.
func flagValue(val interface{}) string {
	switch t := val.(type) {
	case map[string]interface{}:
		pairs := make([]string, 0, len(t))
		for k, v := range t {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(pairs)
		return strings.Join(pairs, ",")
	case map[string]string:
		pairs := make([]string, 0, len(t))
		for k, v := range t {
			pairs = append(pairs, k+"="+v)
		}
		sort.Strings(pairs)
		return strings.Join(pairs, ",")
	case []interface{}:
		items := make([]string, 0, len(t))
		for _, item := range t {
			items = append(items, fmt.Sprint(item))
		}
		return strings.Join(items, ",")
	default:
		return fmt.Sprint(t)
	}
}
