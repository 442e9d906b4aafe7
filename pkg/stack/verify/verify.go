package verify

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"k8s.io/klog/v2"

	"kubemin-stack/pkg/stack/build"
	"kubemin-stack/pkg/stack/cluster"
	"kubemin-stack/pkg/stack/manifest"
)

// Status is the outcome of one check.
type Status string

const (
	Pass Status = "PASS"
	Warn Status = "WARN"
	Fail Status = "FAIL"
)

// Check is one line of the report.
type Check struct {
	Name   string
	Status Status
	Detail string
}

// Report collects the checks of one verify run.
type Report struct {
	Checks []Check
}

// OK is false when a required check failed.
func (r *Report) OK() bool {
	for _, c := range r.Checks {
		if c.Status == Fail {
			return false
		}
	}
	return true
}

// Count returns how many checks ended with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, c := range r.Checks {
		if c.Status == s {
			n++
		}
	}
	return n
}

func (r *Report) add(name string, s Status, detail string) {
	r.Checks = append(r.Checks, Check{Name: name, Status: s, Detail: detail})
}

// Write prints one colored line per check and a summary.
func (r *Report) Write(w io.Writer) {
	for _, c := range r.Checks {
		label := c.Status
		var paint *color.Color
		switch c.Status {
		case Pass:
			paint = color.New(color.FgGreen)
		case Warn:
			paint = color.New(color.FgYellow)
		default:
			paint = color.New(color.FgRed, color.Bold)
		}
		paint.Fprintf(w, "%-4s", label)
		if c.Detail != "" {
			fmt.Fprintf(w, " %s: %s\n", c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, " %s\n", c.Name)
		}
	}
	fmt.Fprintf(w, "%d passed, %d warnings, %d failed\n", r.Count(Pass), r.Count(Warn), r.Count(Fail))
}

// Verifier runs read-only checks of the tooling and the deployed stack.
type Verifier struct {
	builder *build.Builder
	client  cluster.Client
	set     *manifest.Set
}

func NewVerifier(builder *build.Builder, client cluster.Client, set *manifest.Set) *Verifier {
	return &Verifier{builder: builder, client: client, set: set}
}

// Run performs every check. Resource checks are skipped when the cluster is
// unreachable.
func (v *Verifier) Run(ctx context.Context) *Report {
	logger := klog.FromContext(ctx)
	report := &Report{}

	tool := v.builder.Tool()
	if err := v.builder.Precheck(ctx); err != nil {
		report.add(tool+" on PATH", Fail, err.Error())
	} else {
		report.add(tool+" on PATH", Pass, "")
		if err := v.builder.DaemonReachable(ctx); err != nil {
			report.add(tool+" daemon", Warn, err.Error())
		} else {
			report.add(tool+" daemon", Pass, "")
		}
	}

	if err := v.client.Ping(ctx); err != nil {
		report.add("cluster reachable", Fail, err.Error())
		return report
	}
	report.add("cluster reachable", Pass, "")

	for _, e := range v.set.Entries() {
		id := manifest.ID(e.Resource)
		ok, err := v.client.Exists(ctx, e.Resource)
		switch {
		case err != nil:
			logger.V(2).Info("Existence check failed", "resource", id, "err", err)
			report.add(id, Warn, err.Error())
		case !ok:
			report.add(id, Warn, "not found")
		default:
			report.add(id, Pass, "")
		}
	}
	return report
}
