// Package bootctx threads the one genuinely process-wide piece of state
// — the firmware system table — plus a logger and the planner/graph
// values every pipeline stage reads or grows, through the boot pipeline
// explicitly. spec.md §9's Design Notes call this out directly: "the
// source uses module-level globals ... these should become a single
// BootContext value threaded explicitly through the pipeline".
package bootctx

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/maharmstone/quibgo/addrspace"
	"github.com/maharmstone/quibgo/apiset"
	"github.com/maharmstone/quibgo/firmware"
	"github.com/maharmstone/quibgo/imagegraph"
)

// Context is the single value passed to every pipeline stage. Its
// embedded context.Context exists purely so a blocking firmware call
// (disk I/O, Stall) can honor cancellation in tests; the pipeline itself
// is single-threaded and synchronous per spec.md §5.
type Context struct {
	context.Context

	Firmware firmware.Services
	Log      *logrus.Entry

	Planner  *addrspace.Planner
	ApiSet   *apiset.Resolver
	Graph    *imagegraph.Graph

	Arch addrspace.Arch
}

// New builds a Context over svc, logging through log (a nil log is
// replaced with an entry on logrus's standard logger, the same fallback
// peimage uses for a nil logger).
func New(ctx context.Context, svc firmware.Services, arch addrspace.Arch, log *logrus.Entry) *Context {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	planner := addrspace.NewPlanner(arch, log)
	return &Context{
		Context:  ctx,
		Firmware: svc,
		Log:      log,
		Planner:  planner,
		Arch:     arch,
	}
}

// WithApiSet attaches a resolver once the api-set schema has been loaded
// and wires a fresh image graph from it, for the image-discovery stage.
func (c *Context) WithApiSet(resolver *apiset.Resolver, opener imagegraph.FileOpener) {
	c.ApiSet = resolver
	c.Graph = imagegraph.New(c.Planner, resolver, opener, c.Log)
}
