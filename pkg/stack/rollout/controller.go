package rollout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"kubemin-stack/pkg/stack/cluster"
	"kubemin-stack/pkg/stack/config"
	"kubemin-stack/pkg/stack/manifest"
	"kubemin-stack/pkg/stack/stackerr"
)

// Options tunes a rollout run.
type Options struct {
	RunID             string
	ReadinessTimeout  time.Duration
	ReadinessInterval time.Duration
	ApplyTimeout      time.Duration
	// RequireRouting makes a rejected routing rule abort the run.
	RequireRouting bool
}

// OptionsFromConfig copies the rollout settings out of the CLI configuration.
func OptionsFromConfig(c *config.Config, runID string) Options {
	return Options{
		RunID:             runID,
		ReadinessTimeout:  c.ReadinessTimeout,
		ReadinessInterval: c.ReadinessInterval,
		ApplyTimeout:      c.ApplyTimeout,
		RequireRouting:    c.RequireRouting,
	}
}

// Result is the terminal report of one run.
type Result struct {
	RunID string
	State State
	// FailedStep is the state the run aborted in; empty on success.
	FailedStep State
	Err        error
	// Warnings holds the tolerated failures, in order.
	Warnings  []error
	Submitted []string
	Polls     int
	// Transitions is every state entered, starting with Idle.
	Transitions []State
}

// Succeeded reports whether the run reached Complete.
func (r *Result) Succeeded() bool { return r.State == Complete }

func (r *Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s finished in state %s", r.RunID, r.State)
	if r.State == Aborted {
		fmt.Fprintf(&b, " at step %s: %v", r.FailedStep, r.Err)
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintf(&b, " with %d warning(s)", len(r.Warnings))
	}
	return b.String()
}

// Controller drives one manifest set into the cluster in dependency order.
type Controller struct {
	client cluster.Client
	set    *manifest.Set
	opts   Options

	state  State
	result *Result
}

func NewController(client cluster.Client, set *manifest.Set, opts Options) *Controller {
	if opts.ReadinessTimeout <= 0 {
		opts.ReadinessTimeout = config.ReadinessTimeout
	}
	if opts.ReadinessInterval <= 0 {
		opts.ReadinessInterval = config.ReadinessInterval
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = config.ApplyTimeout
	}
	return &Controller{client: client, set: set, opts: opts, state: Idle}
}

// errAbort stops the step sequence; the cause is already in the result.
var errAbort = errors.New("rollout aborted")

// Run executes the rollout and always returns a terminal result. A Controller
// runs once; build a new one for a second submission.
func (c *Controller) Run(ctx context.Context) *Result {
	c.result = &Result{RunID: c.opts.RunID, State: Idle, Transitions: []State{Idle}}

	ctx, span := otel.Tracer("stackctl").Start(ctx, "rollout", trace.WithAttributes(
		attribute.String("rollout.run_id", c.opts.RunID),
		attribute.String("rollout.namespace", c.set.Namespace.Name),
	))
	defer span.End()

	logger := klog.FromContext(ctx).WithValues("runID", c.opts.RunID, "namespace", c.set.Namespace.Name)
	ctx = klog.NewContext(ctx, logger)
	logger.Info("Starting rollout", "units", len(c.set.Units), "routes", len(c.set.Routes))

	steps := []struct {
		state State
		run   func(context.Context) error
	}{
		{PrecheckingTooling, c.precheck},
		{ApplyingNamespace, c.applyPhase(manifest.PhaseNamespace)},
		{ApplyingSecretsAndConfig, c.applyPhase(manifest.PhaseSettings)},
		{ApplyingStatefulTier, c.applyPhase(manifest.PhaseStateful)},
		{AwaitingStatefulReady, c.awaitStateful},
		{ApplyingStatelessTiers, c.applyPhase(manifest.PhaseStateless)},
		{ApplyingRoutingRule, c.applyRoutes},
	}
	for _, step := range steps {
		if err := c.enter(ctx, step.state); err != nil {
			break
		}
		if err := c.runStep(ctx, step.state, step.run); err != nil {
			break
		}
	}
	if c.state != Aborted {
		_ = c.enter(ctx, Complete)
	}

	res := c.result
	res.State = c.state
	span.SetAttributes(
		attribute.String("rollout.state", string(res.State)),
		attribute.Int("rollout.warnings", len(res.Warnings)),
		attribute.Int("rollout.polls", res.Polls),
	)
	if res.State == Aborted {
		span.SetStatus(codes.Error, "rollout aborted")
		span.RecordError(res.Err)
		logger.Error(res.Err, "Rollout aborted", "step", res.FailedStep, "submitted", len(res.Submitted))
	} else {
		span.SetStatus(codes.Ok, "rollout complete")
		logger.Info("Rollout complete", "submitted", len(res.Submitted), "warnings", len(res.Warnings), "polls", res.Polls)
	}
	return res
}

func (c *Controller) enter(ctx context.Context, next State) error {
	if err := checkTransition(c.state, next); err != nil {
		c.abort(ctx, err)
		return errAbort
	}
	klog.FromContext(ctx).V(2).Info("Entering state", "from", c.state, "to", next)
	c.state = next
	c.result.Transitions = append(c.result.Transitions, next)
	return nil
}

func (c *Controller) runStep(ctx context.Context, state State, run func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		c.abort(ctx, fmt.Errorf("interrupted before %s: %w", state, err))
		return errAbort
	}
	ctx, span := otel.Tracer("stackctl").Start(ctx, string(state))
	defer span.End()
	ctx = klog.NewContext(ctx, klog.FromContext(ctx).WithValues("step", state))

	if err := run(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		c.abort(ctx, err)
		return errAbort
	}
	return nil
}

// abort moves the run to Aborted. A run that already reached a terminal state
// keeps it.
func (c *Controller) abort(ctx context.Context, err error) {
	if terr := checkTransition(c.state, Aborted); terr != nil {
		klog.FromContext(ctx).Error(errors.Join(err, terr), "Ignoring abort", "state", c.state)
		return
	}
	c.result.FailedStep = c.state
	c.result.Err = err
	c.state = Aborted
	c.result.Transitions = append(c.result.Transitions, Aborted)
	klog.FromContext(ctx).V(2).Info("Entering state", "from", c.result.FailedStep, "to", Aborted)
}

func (c *Controller) warn(ctx context.Context, err error) {
	c.result.Warnings = append(c.result.Warnings, err)
	klog.FromContext(ctx).Error(err, "Tolerated failure, continuing")
}

func (c *Controller) precheck(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		return stackerr.NewToolingUnavailable(string(PrecheckingTooling), err)
	}
	return nil
}

func (c *Controller) applyPhase(phase manifest.Phase) func(context.Context) error {
	return func(ctx context.Context) error {
		for _, e := range c.set.Entries() {
			if e.Phase != phase {
				continue
			}
			if err := c.apply(ctx, e.Resource, false); err != nil {
				return err
			}
		}
		return nil
	}
}

func (c *Controller) applyRoutes(ctx context.Context) error {
	for _, r := range c.set.Routes {
		err := c.apply(ctx, r, !c.opts.RequireRouting)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return fmt.Errorf("interrupted during %s: %w", ApplyingRoutingRule, err)
		}
		if se, ok := stackerr.Extract(err); ok && !se.Fatal() {
			c.warn(ctx, err)
			continue
		}
		return err
	}
	return nil
}

func (c *Controller) apply(ctx context.Context, res manifest.Resource, optional bool) error {
	id := manifest.ID(res)
	applyCtx, cancel := context.WithTimeout(ctx, c.opts.ApplyTimeout)
	defer cancel()

	c.result.Submitted = append(c.result.Submitted, id)
	if err := c.client.Apply(applyCtx, res); err != nil {
		return stackerr.NewApplyFailure(string(c.state), res.ResourceName(), optional, fmt.Errorf("%s: %w", id, err))
	}
	klog.FromContext(ctx).Info("Applied resource", "resource", id)
	return nil
}

// awaitStateful polls every stateful unit until ready. A timeout is a warning;
// cancellation of ctx aborts.
func (c *Controller) awaitStateful(ctx context.Context) error {
	logger := klog.FromContext(ctx)
	for _, unit := range c.set.StatefulUnits() {
		err := wait.PollUntilContextTimeout(ctx, c.opts.ReadinessInterval, c.opts.ReadinessTimeout, true, func(ctx context.Context) (bool, error) {
			c.result.Polls++
			ready, err := c.client.Ready(ctx, unit)
			if err != nil {
				logger.V(2).Info("Readiness poll failed, treating as not ready", "unit", unit.Name, "err", err)
				return false, nil
			}
			logger.V(4).Info("Readiness poll", "unit", unit.Name, "ready", ready)
			return ready, nil
		})
		if err == nil {
			logger.Info("Stateful unit ready", "unit", unit.Name)
			continue
		}
		if ctx.Err() != nil {
			return fmt.Errorf("waiting for %s: %w", unit.Name, ctx.Err())
		}
		c.warn(ctx, stackerr.NewReadinessTimeout(string(AwaitingStatefulReady), unit.Name,
			fmt.Errorf("not ready after %v: %w", c.opts.ReadinessTimeout, err)))
	}
	return nil
}
