package manifest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/distribution/reference"
	"github.com/go-playground/validator/v10"
	"k8s.io/apimachinery/pkg/util/validation"
)

// Phase is the position of a resource in the fixed rollout order.
type Phase int

const (
	PhaseNamespace Phase = iota
	PhaseSettings
	PhaseStateful
	PhaseStateless
	PhaseRouting
)

func (p Phase) String() string {
	switch p {
	case PhaseNamespace:
		return "namespace"
	case PhaseSettings:
		return "settings"
	case PhaseStateful:
		return "stateful"
	case PhaseStateless:
		return "stateless"
	case PhaseRouting:
		return "routing"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Entry pairs a descriptor with the IDs of the resources it depends on.
type Entry struct {
	Phase     Phase
	Resource  Resource
	DependsOn []string
}

// Set is the canonical, read-only collection of resources of one stack.
type Set struct {
	Namespace *Namespace `validate:"required"`
	Secrets   *SecretSet
	Config    *ConfigSet
	Units     []*ServiceUnit `validate:"required,min=1,dive,required"`
	Routes    []*RoutingRule `validate:"dive,required"`
}

// Entries returns every resource in rollout order: namespace, secrets and
// config, stateful units, stateless units, routing rules. Units keep their
// declaration order inside a tier.
func (s *Set) Entries() []Entry {
	nsID := ID(s.Namespace)
	entries := []Entry{{Phase: PhaseNamespace, Resource: s.Namespace}}

	var settings []string
	if s.Secrets != nil {
		entries = append(entries, Entry{Phase: PhaseSettings, Resource: s.Secrets, DependsOn: []string{nsID}})
		settings = append(settings, ID(s.Secrets))
	}
	if s.Config != nil {
		entries = append(entries, Entry{Phase: PhaseSettings, Resource: s.Config, DependsOn: []string{nsID}})
		settings = append(settings, ID(s.Config))
	}

	for _, u := range s.StatefulUnits() {
		entries = append(entries, Entry{Phase: PhaseStateful, Resource: u, DependsOn: s.unitDeps(u, nsID, settings)})
	}
	for _, u := range s.StatelessUnits() {
		entries = append(entries, Entry{Phase: PhaseStateless, Resource: u, DependsOn: s.unitDeps(u, nsID, settings)})
	}
	for _, r := range s.Routes {
		deps := []string{nsID}
		for _, target := range r.Targets() {
			deps = append(deps, string(KindServiceUnit)+"/"+target)
		}
		entries = append(entries, Entry{Phase: PhaseRouting, Resource: r, DependsOn: deps})
	}
	return entries
}

func (s *Set) unitDeps(u *ServiceUnit, nsID string, settings []string) []string {
	deps := append([]string{nsID}, settings...)
	for _, d := range u.DependsOn {
		deps = append(deps, string(KindServiceUnit)+"/"+d)
	}
	return deps
}

// StatefulUnits returns the stateful units in declaration order.
func (s *Set) StatefulUnits() []*ServiceUnit {
	var out []*ServiceUnit
	for _, u := range s.Units {
		if u.Stateful {
			out = append(out, u)
		}
	}
	return out
}

// StatelessUnits returns the stateless units in declaration order.
func (s *Set) StatelessUnits() []*ServiceUnit {
	var out []*ServiceUnit
	for _, u := range s.Units {
		if !u.Stateful {
			out = append(out, u)
		}
	}
	return out
}

// Unit looks a unit up by name.
func (s *Set) Unit(name string) (*ServiceUnit, bool) {
	for _, u := range s.Units {
		if u.Name == name {
			return u, true
		}
	}
	return nil, false
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("dns_label", func(fl validator.FieldLevel) bool {
			return len(validation.IsDNS1123Label(fl.Field().String())) == 0
		})
		_ = validate.RegisterValidation("env_key", func(fl validator.FieldLevel) bool {
			return len(validation.IsEnvVarName(fl.Field().String())) == 0
		})
		_ = validate.RegisterValidation("image_ref", func(fl validator.FieldLevel) bool {
			_, err := reference.ParseNormalizedNamed(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate checks field constraints and every cross reference of the set.
func (s *Set) Validate() error {
	if s == nil {
		return errors.New("manifest set is nil")
	}
	if err := structValidator().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid manifest set: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid manifest set: %w", err)
	}

	var errs []error
	if s.Config != nil {
		errs = append(errs, uniqueKeys("config", configKeys(s.Config))...)
	}
	if s.Secrets != nil {
		errs = append(errs, uniqueKeys("secret", s.Secrets.Keys())...)
	}

	units := map[string]*ServiceUnit{}
	for _, u := range s.Units {
		if _, dup := units[u.Name]; dup {
			errs = append(errs, fmt.Errorf("service unit %q declared twice", u.Name))
		}
		units[u.Name] = u
	}
	for _, u := range s.Units {
		errs = append(errs, s.validateUnit(u, units)...)
	}

	routes := map[string]bool{}
	for _, r := range s.Routes {
		if routes[r.Name] {
			errs = append(errs, fmt.Errorf("routing rule %q declared twice", r.Name))
		}
		routes[r.Name] = true
		for _, p := range r.Paths {
			target, ok := units[p.Target]
			if !ok {
				errs = append(errs, fmt.Errorf("routing rule %q targets undeclared unit %q", r.Name, p.Target))
				continue
			}
			if target.Port != p.TargetPort {
				errs = append(errs, fmt.Errorf("routing rule %q targets %s:%d but the unit listens on %d", r.Name, p.Target, p.TargetPort, target.Port))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Set) validateUnit(u *ServiceUnit, units map[string]*ServiceUnit) []error {
	var errs []error
	for _, b := range u.Env {
		if b.sourceCount() != 1 {
			errs = append(errs, fmt.Errorf("unit %s: env %s must have exactly one source", u.Name, b.Name))
			continue
		}
		if b.ConfigKey != "" && (s.Config == nil || !s.Config.Has(b.ConfigKey)) {
			errs = append(errs, fmt.Errorf("unit %s: env %s references unknown config key %q", u.Name, b.Name, b.ConfigKey))
		}
		if b.SecretKey != "" && (s.Secrets == nil || !s.Secrets.Has(b.SecretKey)) {
			errs = append(errs, fmt.Errorf("unit %s: env %s references unknown secret key %q", u.Name, b.Name, b.SecretKey))
		}
	}
	for _, p := range []*ProbeSpec{u.Readiness, u.Liveness} {
		if p != nil && p.handlerCount() != 1 {
			errs = append(errs, fmt.Errorf("unit %s: probe must set exactly one of httpPath, tcp or exec", u.Name))
		}
	}
	for _, d := range u.DependsOn {
		dep, ok := units[d]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("unit %s depends on undeclared unit %q", u.Name, d))
		case d == u.Name:
			errs = append(errs, fmt.Errorf("unit %s depends on itself", u.Name))
		case u.Stateful && !dep.Stateful:
			errs = append(errs, fmt.Errorf("stateful unit %s cannot depend on stateless unit %s", u.Name, d))
		case u.Stateful == dep.Stateful && s.index(d) > s.index(u.Name):
			errs = append(errs, fmt.Errorf("unit %s depends on %s, which is declared after it", u.Name, d))
		}
	}
	if u.Storage != nil && !u.Stateful {
		errs = append(errs, fmt.Errorf("unit %s: storage requires a stateful unit", u.Name))
	}
	return errs
}

func (s *Set) index(name string) int {
	for i, u := range s.Units {
		if u.Name == name {
			return i
		}
	}
	return -1
}

func configKeys(c *ConfigSet) []string {
	keys := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		keys = append(keys, e.Key)
	}
	return keys
}

func uniqueKeys(kind string, keys []string) []error {
	seen := map[string]bool{}
	var errs []error
	for _, k := range keys {
		if seen[k] {
			errs = append(errs, fmt.Errorf("duplicate %s key %q", kind, k))
		}
		seen[k] = true
	}
	return errs
}
