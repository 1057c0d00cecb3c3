// Package pipeline sequences the full label workflow: resolve, download,
// extract, verify, build, reconcile, upload, prune, record and notify.
package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/gilburns/intuneomator/archive"
	"github.com/gilburns/intuneomator/cache"
	"github.com/gilburns/intuneomator/catalog"
	"github.com/gilburns/intuneomator/history"
	"github.com/gilburns/intuneomator/inspect"
	"github.com/gilburns/intuneomator/label"
	"github.com/gilburns/intuneomator/notify"
	"github.com/gilburns/intuneomator/pkgbuild"
	"github.com/gilburns/intuneomator/transfer"
)

// default number of catalog versions retained per title.
const defaultVersionsToKeep = 2

// Service processes label folders end to end.
type Service interface {
	// ProcessLabel runs the full pipeline for one label folder.
	ProcessLabel(ctx context.Context, folderName string) Outcome

	// ProcessAll runs every automation-ready folder sequentially, in
	// alphabetical order. One label's failure never aborts the batch.
	ProcessAll(ctx context.Context) []Outcome

	// ReadyLabels lists the automation-ready label folders.
	ReadyLabels() ([]label.Definition, error)
}

// Outcome is the per-label result the batch loop aggregates. Stage failures
// are converted into an Outcome; they never crash the loop.
type Outcome struct {
	Label       string              `json:"label"`
	DisplayName string              `json:"displayName,omitempty"`
	Version     string              `json:"version,omitempty"`
	SizeBytes   int64               `json:"sizeBytes,omitempty"`
	Success     bool                `json:"success"`
	Skipped     bool                `json:"skipped,omitempty"`
	Message     string              `json:"message,omitempty"`
	Took        time.Duration       `json:"took"`
	Archs       []notify.ArchDetail `json:"archs,omitempty"`
}

type service struct {
	labels     label.Datastore
	scripts    label.ScriptRunner
	extractor  archive.Extractor
	inspector  inspect.Inspector
	builder    pkgbuild.Builder
	store      cache.Store
	client     catalog.Client
	reconciler *catalog.Reconciler
	uploader   *transfer.Uploader
	sink       notify.Sink
	runs       history.Datastore
	httpClient *http.Client
	logger     log.Logger
	keep       int
}

type config struct {
	labels     label.Datastore
	scripts    label.ScriptRunner
	extractor  archive.Extractor
	inspector  inspect.Inspector
	builder    pkgbuild.Builder
	store      cache.Store
	client     catalog.Client
	reconciler *catalog.Reconciler
	uploader   *transfer.Uploader
	sink       notify.Sink
	runs       history.Datastore
	httpClient *http.Client
	logger     log.Logger
	keep       int
}

// Option configures the pipeline service.
type Option func(*config) error

// Labels sets the label datastore.
func Labels(ds label.Datastore) Option {
	return func(c *config) error { c.labels = ds; return nil }
}

// Scripts sets the label script runner.
func Scripts(r label.ScriptRunner) Option {
	return func(c *config) error { c.scripts = r; return nil }
}

// Extractor sets the archive extractor.
func Extractor(e archive.Extractor) Option {
	return func(c *config) error { c.extractor = e; return nil }
}

// Inspector sets the identity inspector.
func Inspector(i inspect.Inspector) Option {
	return func(c *config) error { c.inspector = i; return nil }
}

// Builder sets the package builder.
func Builder(b pkgbuild.Builder) Option {
	return func(c *config) error { c.builder = b; return nil }
}

// Cache sets the artifact cache store.
func Cache(s cache.Store) Option {
	return func(c *config) error { c.store = s; return nil }
}

// Catalog sets the catalog client.
func Catalog(cl catalog.Client) Option {
	return func(c *config) error { c.client = cl; return nil }
}

// Uploader sets the chunked uploader.
func Uploader(u *transfer.Uploader) Option {
	return func(c *config) error { c.uploader = u; return nil }
}

// Notifier sets the notification sink.
func Notifier(s notify.Sink) Option {
	return func(c *config) error { c.sink = s; return nil }
}

// History sets the run-history datastore.
func History(ds history.Datastore) Option {
	return func(c *config) error { c.runs = ds; return nil }
}

// HTTPClient sets the client used for artifact downloads.
func HTTPClient(hc *http.Client) Option {
	return func(c *config) error { c.httpClient = hc; return nil }
}

// Logger sets the service logger.
func Logger(logger log.Logger) Option {
	return func(c *config) error { c.logger = logger; return nil }
}

// VersionsToKeep sets the default number of catalog versions retained.
func VersionsToKeep(n int) Option {
	return func(c *config) error { c.keep = n; return nil }
}

// NewService creates the pipeline service.
func NewService(opts ...Option) (Service, error) {
	conf := &config{
		sink:       notify.Nop{},
		httpClient: http.DefaultClient,
		logger:     log.NewNopLogger(),
		keep:       defaultVersionsToKeep,
	}
	for _, opt := range opts {
		if err := opt(conf); err != nil {
			return nil, err
		}
	}
	if conf.reconciler == nil && conf.client != nil {
		conf.reconciler = catalog.NewReconciler(conf.client, conf.logger)
	}
	return &service{
		labels:     conf.labels,
		scripts:    conf.scripts,
		extractor:  conf.extractor,
		inspector:  conf.inspector,
		builder:    conf.builder,
		store:      conf.store,
		client:     conf.client,
		reconciler: conf.reconciler,
		uploader:   conf.uploader,
		sink:       conf.sink,
		runs:       conf.runs,
		httpClient: conf.httpClient,
		logger:     conf.logger,
		keep:       conf.keep,
	}, nil
}

func (svc *service) ReadyLabels() ([]label.Definition, error) {
	return svc.labels.Ready()
}

func (svc *service) ProcessAll(ctx context.Context) []Outcome {
	defs, err := svc.labels.Ready()
	if err != nil {
		svc.logger.Log("msg", "scan ready labels", "err", err)
		return nil
	}
	outcomes := make([]Outcome, 0, len(defs))
	for _, def := range defs {
		outcomes = append(outcomes, svc.ProcessLabel(ctx, def.FolderName()))
	}
	return outcomes
}

func (svc *service) ProcessLabel(ctx context.Context, folderName string) Outcome {
	begin := time.Now()
	out := svc.processLabel(ctx, folderName)
	out.Took = time.Since(begin)
	svc.record(out)
	return out
}

// record saves the run and fans out the notification. Both are best-effort;
// their failures are logged and never escalate.
func (svc *service) record(out Outcome) {
	if svc.runs != nil {
		rec := &history.RunRecord{
			Label:     out.Label,
			Version:   out.Version,
			Success:   out.Success,
			Skipped:   out.Skipped,
			Message:   out.Message,
			SizeBytes: out.SizeBytes,
			Took:      out.Took,
		}
		if err := svc.runs.SaveRun(rec); err != nil {
			svc.logger.Log("msg", "save run record", "label", out.Label, "err", err)
		}
	}
	msg := notify.Message{
		Label:       out.Label,
		DisplayName: out.DisplayName,
		Version:     out.Version,
		SizeBytes:   out.SizeBytes,
		Success:     out.Success,
		Skipped:     out.Skipped,
		Error:       outError(out),
		Took:        out.Took,
		Archs:       out.Archs,
	}
	if err := svc.sink.Send(msg); err != nil {
		svc.logger.Log("msg", "send notification", "label", out.Label, "err", err)
	}
}

func outError(out Outcome) string {
	if out.Success || out.Skipped {
		return ""
	}
	return out.Message
}
