package manifest

import (
	"fmt"
	"path/filepath"
	"sort"
)

const (
	UnitDB  = "db"
	UnitAPI = "api"
	UnitWeb = "web"

	ConfigName  = "app-config"
	SecretsName = "app-secrets"
	RoutingName = "app-ingress"

	dbPort  int32 = 27017
	apiPort int32 = 3001
	webPort int32 = 80
)

// Options parameterises the canonical stack.
type Options struct {
	Namespace      string
	ImageTag       string
	ImageOverrides map[string]string
	Replicas       map[string]int
	SourceRoot     string
	APIBaseURL     string
	IngressHost    string
	IngressClass   string
}

// LocalImage is the deterministic name:tag the build step produces for a unit.
func LocalImage(unit, tag string) string {
	return fmt.Sprintf("crud-stack-%s:%s", unit, tag)
}

// Default builds the reference stack: a document database, the REST API,
// the static web server and one routing rule in front of both services.
func Default(opts Options) *Set {
	if opts.Namespace == "" {
		opts.Namespace = "app-ns"
	}
	if opts.ImageTag == "" {
		opts.ImageTag = "latest"
	}
	if opts.SourceRoot == "" {
		opts.SourceRoot = "."
	}
	if opts.APIBaseURL == "" {
		opts.APIBaseURL = "/api"
	}

	dbHost := fmt.Sprintf("%s.%s.svc.cluster.local", UnitDB, opts.Namespace)
	set := &Set{
		Namespace: &Namespace{Name: opts.Namespace},
		Secrets: &SecretSet{
			Name: SecretsName,
			Entries: []SecretEntry{
				{Key: "JWT_SECRET", Value: "change-me-in-production", OverrideEnv: "STACK_JWT_SECRET"},
				{Key: "MONGO_INITDB_ROOT_USERNAME", Value: "admin", OverrideEnv: "STACK_DB_USERNAME"},
				{Key: "MONGO_INITDB_ROOT_PASSWORD", Value: "change-me-in-production", OverrideEnv: "STACK_DB_PASSWORD"},
			},
		},
		Config: &ConfigSet{
			Name: ConfigName,
			Entries: []ConfigEntry{
				{Key: "PORT", Value: fmt.Sprint(apiPort)},
				{Key: "NODE_ENV", Value: "production"},
				{Key: "DB_HOST", Value: dbHost},
				{Key: "DB_PORT", Value: fmt.Sprint(dbPort)},
				{Key: "DB_NAME", Value: "app"},
				{Key: "CORS_ORIGIN", Value: corsOrigin(opts.IngressHost)},
				{Key: "API_BASE_URL", Value: opts.APIBaseURL},
			},
		},
		Units: []*ServiceUnit{
			{
				Name:     UnitDB,
				Image:    "mongo:7.0",
				Replicas: 1,
				Stateful: true,
				Port:     dbPort,
				Readiness: &ProbeSpec{
					Exec:                []string{"mongosh", "--quiet", "--eval", "db.adminCommand('ping')"},
					InitialDelaySeconds: 10,
					PeriodSeconds:       10,
					TimeoutSeconds:      5,
				},
				Liveness: &ProbeSpec{
					TCP:                 true,
					InitialDelaySeconds: 30,
					PeriodSeconds:       20,
				},
				Resources: ResourceSpec{RequestCPU: "250m", RequestMemory: "256Mi", LimitCPU: "500m", LimitMemory: "512Mi"},
				Env: []EnvBinding{
					{Name: "MONGO_INITDB_ROOT_USERNAME", SecretKey: "MONGO_INITDB_ROOT_USERNAME"},
					{Name: "MONGO_INITDB_ROOT_PASSWORD", SecretKey: "MONGO_INITDB_ROOT_PASSWORD"},
				},
				Storage: &StorageSpec{Size: "1Gi", MountPath: "/data/db"},
			},
			{
				Name:     UnitAPI,
				Image:    LocalImage(UnitAPI, opts.ImageTag),
				Replicas: 2,
				Port:     apiPort,
				Readiness: &ProbeSpec{
					HTTPPath:            "/api/health",
					InitialDelaySeconds: 5,
					PeriodSeconds:       10,
				},
				Liveness: &ProbeSpec{
					HTTPPath:            "/api/health",
					InitialDelaySeconds: 15,
					PeriodSeconds:       20,
					FailureThreshold:    3,
				},
				Resources: ResourceSpec{RequestCPU: "100m", RequestMemory: "128Mi", LimitCPU: "500m", LimitMemory: "256Mi"},
				Env: []EnvBinding{
					{Name: "PORT", ConfigKey: "PORT"},
					{Name: "NODE_ENV", ConfigKey: "NODE_ENV"},
					{Name: "DB_HOST", ConfigKey: "DB_HOST"},
					{Name: "DB_PORT", ConfigKey: "DB_PORT"},
					{Name: "DB_NAME", ConfigKey: "DB_NAME"},
					{Name: "CORS_ORIGIN", ConfigKey: "CORS_ORIGIN"},
					{Name: "DB_USERNAME", SecretKey: "MONGO_INITDB_ROOT_USERNAME"},
					{Name: "DB_PASSWORD", SecretKey: "MONGO_INITDB_ROOT_PASSWORD"},
					{Name: "JWT_SECRET", SecretKey: "JWT_SECRET"},
				},
				DependsOn: []string{UnitDB},
				Build: &BuildSpec{
					Context:    filepath.Join(opts.SourceRoot, "backend"),
					Dockerfile: "Dockerfile",
				},
			},
			{
				Name:     UnitWeb,
				Image:    LocalImage(UnitWeb, opts.ImageTag),
				Replicas: 2,
				Port:     webPort,
				Readiness: &ProbeSpec{
					HTTPPath:      "/",
					PeriodSeconds: 10,
				},
				Liveness: &ProbeSpec{
					HTTPPath:            "/",
					InitialDelaySeconds: 10,
					PeriodSeconds:       20,
				},
				Resources: ResourceSpec{RequestCPU: "50m", RequestMemory: "64Mi", LimitCPU: "200m", LimitMemory: "128Mi"},
				DependsOn: []string{UnitAPI},
				Build: &BuildSpec{
					Context:    filepath.Join(opts.SourceRoot, "frontend"),
					Dockerfile: "Dockerfile",
					Args:       map[string]string{"API_BASE_URL": opts.APIBaseURL},
				},
			},
		},
		Routes: []*RoutingRule{
			{
				Name:      RoutingName,
				Host:      opts.IngressHost,
				ClassName: opts.IngressClass,
				Paths: []RoutePath{
					{PathPrefix: "/api", Target: UnitAPI, TargetPort: apiPort},
					{PathPrefix: "/", Target: UnitWeb, TargetPort: webPort},
				},
			},
		},
	}

	for _, name := range sortedKeys(opts.ImageOverrides) {
		if u, ok := set.Unit(name); ok {
			u.Image = opts.ImageOverrides[name]
		}
	}
	for name, n := range opts.Replicas {
		if u, ok := set.Unit(name); ok {
			u.Replicas = int32(n)
		}
	}
	return set
}

// UnknownUnits returns the names that match no unit of the set.
func (s *Set) UnknownUnits(names []string) []string {
	var unknown []string
	for _, name := range names {
		if _, ok := s.Unit(name); !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func corsOrigin(host string) string {
	if host == "" {
		return "*"
	}
	return "http://" + host
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
