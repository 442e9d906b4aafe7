package config

import "time"

const (
	DefaultNamespace    = "app-ns"
	DefaultImageTag     = "latest"
	DefaultBuildTool    = "docker"
	DefaultSourceRoot   = "."
	DefaultAPIBaseURL   = "/api"
	DefaultIngressClass = "nginx"
	EnvPrefix           = "STACKCTL"

	// ReadinessTimeout bounds the wait for the stateful tier.
	ReadinessTimeout = 120 * time.Second
	// ReadinessInterval is the pause between readiness polls.
	ReadinessInterval = 2 * time.Second
	// ApplyTimeout bounds a single submission to the cluster.
	ApplyTimeout = 30 * time.Second
)

const (
	LabelManagedBy  = "app.kubernetes.io/managed-by"
	LabelName       = "app.kubernetes.io/name"
	LabelPartOf     = "app.kubernetes.io/part-of"
	LabelComponent  = "app.kubernetes.io/component"
	AnnotationRunID = "stackctl.io/run-id"

	ManagedBy = "stackctl"
	PartOf    = "crud-stack"
)
