package manifest

import (
	"fmt"
	"strings"
)

// Kind identifies the type of a resource descriptor.
type Kind string

const (
	KindNamespace   Kind = "Namespace"
	KindConfig      Kind = "ConfigSet"
	KindSecret      Kind = "SecretSet"
	KindServiceUnit Kind = "ServiceUnit"
	KindRoutingRule Kind = "RoutingRule"
)

// Resource is a declarative descriptor submitted to the cluster.
type Resource interface {
	Kind() Kind
	ResourceName() string
}

// ID returns the "Kind/name" form used for dependency edges and logs.
func ID(r Resource) string {
	return fmt.Sprintf("%s/%s", r.Kind(), r.ResourceName())
}

// Namespace is the isolation boundary for every other resource.
type Namespace struct {
	Name string `validate:"required,dns_label"`
}

func (n *Namespace) Kind() Kind           { return KindNamespace }
func (n *Namespace) ResourceName() string { return n.Name }

// ConfigEntry is a non-sensitive setting.
type ConfigEntry struct {
	Key   string `validate:"required,env_key"`
	Value string
}

// ConfigSet groups config entries into one ConfigMap.
type ConfigSet struct {
	Name    string        `validate:"required,dns_label"`
	Entries []ConfigEntry `validate:"dive"`
}

func (c *ConfigSet) Kind() Kind           { return KindConfig }
func (c *ConfigSet) ResourceName() string { return c.Name }

// Data returns the entries as a map.
func (c *ConfigSet) Data() map[string]string {
	data := make(map[string]string, len(c.Entries))
	for _, e := range c.Entries {
		data[e.Key] = e.Value
	}
	return data
}

// Has reports whether key is declared.
func (c *ConfigSet) Has(key string) bool {
	for _, e := range c.Entries {
		if e.Key == key {
			return true
		}
	}
	return false
}

// SecretEntry is a sensitive setting. OverrideEnv names an environment
// variable whose value replaces Value at apply time.
type SecretEntry struct {
	Key         string `validate:"required,env_key"`
	Value       string
	OverrideEnv string
}

// String never prints the value.
func (s SecretEntry) String() string {
	return fmt.Sprintf("%s=<redacted>", s.Key)
}

// GoString keeps %#v from leaking the value.
func (s SecretEntry) GoString() string { return s.String() }

// SecretSet groups secret entries into one Opaque Secret.
type SecretSet struct {
	Name    string        `validate:"required,dns_label"`
	Entries []SecretEntry `validate:"dive"`
}

func (s *SecretSet) Kind() Kind           { return KindSecret }
func (s *SecretSet) ResourceName() string { return s.Name }

// Has reports whether key is declared.
func (s *SecretSet) Has(key string) bool {
	for _, e := range s.Entries {
		if e.Key == key {
			return true
		}
	}
	return false
}

// Keys lists the entry keys in declaration order.
func (s *SecretSet) Keys() []string {
	keys := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		keys = append(keys, e.Key)
	}
	return keys
}

// Resolve returns the entry values, letting override env vars win.
func (s *SecretSet) Resolve(lookup func(string) (string, bool)) map[string]string {
	data := make(map[string]string, len(s.Entries))
	for _, e := range s.Entries {
		value := e.Value
		if e.OverrideEnv != "" && lookup != nil {
			if v, ok := lookup(e.OverrideEnv); ok && v != "" {
				value = v
			}
		}
		data[e.Key] = value
	}
	return data
}

func (s *SecretSet) String() string {
	return fmt.Sprintf("SecretSet %s [%s]", s.Name, strings.Join(s.Keys(), ","))
}

// ProbeSpec describes a readiness or liveness check. Exactly one of HTTPPath,
// TCP or Exec is set.
type ProbeSpec struct {
	HTTPPath            string
	TCP                 bool
	Exec                []string
	Port                int32 `validate:"omitempty,min=1,max=65535"`
	InitialDelaySeconds int32 `validate:"min=0"`
	PeriodSeconds       int32 `validate:"min=0"`
	TimeoutSeconds      int32 `validate:"min=0"`
	FailureThreshold    int32 `validate:"min=0"`
}

func (p *ProbeSpec) handlerCount() int {
	n := 0
	if p.HTTPPath != "" {
		n++
	}
	if p.TCP {
		n++
	}
	if len(p.Exec) > 0 {
		n++
	}
	return n
}

// ResourceSpec holds compute requests and limits as quantity strings.
type ResourceSpec struct {
	RequestCPU    string
	RequestMemory string
	LimitCPU      string
	LimitMemory   string
}

// EnvBinding sets one environment variable from exactly one source.
type EnvBinding struct {
	Name      string `validate:"required,env_key"`
	Value     string
	ConfigKey string
	SecretKey string
}

func (e EnvBinding) sourceCount() int {
	n := 0
	if e.Value != "" {
		n++
	}
	if e.ConfigKey != "" {
		n++
	}
	if e.SecretKey != "" {
		n++
	}
	return n
}

// StorageSpec attaches a persistent volume to a stateful unit.
type StorageSpec struct {
	Size         string `validate:"required"`
	MountPath    string `validate:"required,startswith=/"`
	StorageClass string
}

// BuildSpec tells the build step how to produce the unit's image.
type BuildSpec struct {
	Context    string `validate:"required"`
	Dockerfile string
	Args       map[string]string
}

// ServiceUnit is one deployable tier.
type ServiceUnit struct {
	Name      string `validate:"required,dns_label"`
	Image     string `validate:"required,image_ref"`
	Replicas  int32  `validate:"min=1"`
	Stateful  bool
	Port      int32 `validate:"min=1,max=65535"`
	Readiness *ProbeSpec
	Liveness  *ProbeSpec
	Resources ResourceSpec
	Env       []EnvBinding `validate:"dive"`
	DependsOn []string
	Storage   *StorageSpec
	Build     *BuildSpec
}

func (u *ServiceUnit) Kind() Kind           { return KindServiceUnit }
func (u *ServiceUnit) ResourceName() string { return u.Name }

// RoutingRule maps external host/path traffic to a unit.
type RoutingRule struct {
	Name      string `validate:"required,dns_label"`
	Host      string `validate:"omitempty,hostname_rfc1123"`
	ClassName string
	Paths     []RoutePath `validate:"required,min=1,dive"`
}

// RoutePath is one path prefix of a routing rule.
type RoutePath struct {
	PathPrefix string `validate:"required,startswith=/"`
	Target     string `validate:"required"`
	TargetPort int32  `validate:"min=1,max=65535"`
}

func (r *RoutingRule) Kind() Kind           { return KindRoutingRule }
func (r *RoutingRule) ResourceName() string { return r.Name }

// Targets lists the unit names referenced by the rule.
func (r *RoutingRule) Targets() []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range r.Paths {
		if !seen[p.Target] {
			seen[p.Target] = true
			out = append(out, p.Target)
		}
	}
	return out
}
