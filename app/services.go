package app

import (
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	nsq "github.com/nsqio/go-nsq"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/gilburns/intuneomator/archive"
	"github.com/gilburns/intuneomator/auth"
	"github.com/gilburns/intuneomator/cache"
	"github.com/gilburns/intuneomator/catalog"
	"github.com/gilburns/intuneomator/driver"
	"github.com/gilburns/intuneomator/history"
	"github.com/gilburns/intuneomator/inspect"
	"github.com/gilburns/intuneomator/label"
	"github.com/gilburns/intuneomator/notify"
	"github.com/gilburns/intuneomator/pipeline"
	"github.com/gilburns/intuneomator/pkgbuild"
	"github.com/gilburns/intuneomator/transfer"
)

// setupServices uses the values from the config to set up the various
// components the pipeline relies on.
func setupServices(config *Config, logger log.Logger) (*serviceManager, error) {
	sm := &serviceManager{Config: config, logger: logger}
	sm.setupRunner()
	sm.setupLabelStore()
	sm.setupHistoryStore()
	sm.setupNotifier()
	sm.setupTokenProvider()
	sm.setupCatalogClient()
	sm.setupUploader()
	sm.setupPipelineService()
	if sm.err != nil {
		return nil, sm.err
	}
	return sm, nil
}

// serviceManager knows how to set up the independent components which make
// up the automation, mainly datastores and the pipeline service.
type serviceManager struct {
	LabelStore      label.Datastore
	HistoryStore    *history.Service
	Notifier        notify.Sink
	Tokens          auth.Provider
	CatalogClient   catalog.Client
	Uploader        *transfer.Uploader
	PipelineService pipeline.Service

	*Config
	runner driver.Runner
	logger log.Logger
	err    error
}

func (s *serviceManager) setupRunner() {
	if s.err != nil {
		return
	}
	s.runner = driver.NewRunner(driver.Logger(log.With(s.logger, "component", "exec")))
}

func (s *serviceManager) setupLabelStore() {
	if s.err != nil {
		return
	}
	s.LabelStore = label.NewDatastore(s.Paths.TitlesDir)
}

func (s *serviceManager) setupHistoryStore() {
	if s.err != nil {
		return
	}
	s.HistoryStore, s.err = history.NewDB(s.Paths.HistoryDBPath)
}

func (s *serviceManager) setupNotifier() {
	if s.err != nil {
		return
	}
	var sinks []notify.Sink
	if s.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(s.Notify.WebhookURL, http.DefaultClient))
	}
	if s.Notify.NSQAddr != "" {
		producer, err := nsq.NewProducer(s.Notify.NSQAddr, nsq.NewConfig())
		if err != nil {
			s.err = err
			return
		}
		publisher := &notify.Publisher{Producer: producer}
		sinks = append(sinks, notify.NewEventSink(publisher, s.Notify.NSQTopic))
	}
	switch len(sinks) {
	case 0:
		s.Notifier = notify.Nop{}
	case 1:
		s.Notifier = sinks[0]
	default:
		s.Notifier = notify.Multi(sinks)
	}
}

func (s *serviceManager) setupTokenProvider() {
	if s.err != nil {
		return
	}
	var provider auth.Provider
	if s.Graph.CertificatePath != "" {
		provider, s.err = auth.NewClientCertProvider(
			s.Graph.LoginURL,
			s.Graph.TenantID,
			s.Graph.ClientID,
			s.Graph.CertificatePath,
			s.Graph.CertificatePass,
			http.DefaultClient,
		)
		if s.err != nil {
			return
		}
	} else {
		provider = auth.NewClientSecretProvider(
			s.Graph.LoginURL,
			s.Graph.TenantID,
			s.Graph.ClientID,
			s.Graph.ClientSecret,
			http.DefaultClient,
		)
	}
	s.Tokens = auth.NewTokenCache(provider, time.Now)
}

func (s *serviceManager) setupCatalogClient() {
	if s.err != nil {
		return
	}
	opts := []catalog.GraphOption{
		catalog.Logger(log.With(s.logger, "component", "graph")),
	}
	if s.Graph.BaseURL != "" {
		opts = append(opts, catalog.BaseURL(s.Graph.BaseURL))
	}
	s.CatalogClient = catalog.NewGraphClient(s.Tokens, opts...)
}

func (s *serviceManager) setupUploader() {
	if s.err != nil {
		return
	}
	s.Uploader = transfer.NewUploader(s.CatalogClient,
		transfer.WithLogger(log.With(s.logger, "component", "transfer")),
	)
}

func (s *serviceManager) setupPipelineService() {
	if s.err != nil {
		return
	}
	svc, err := pipeline.NewService(
		pipeline.Labels(s.LabelStore),
		pipeline.Scripts(label.NewScriptRunner(s.LabelStore)),
		pipeline.Extractor(archive.NewExtractor(archive.Runner(s.runner))),
		pipeline.Inspector(inspect.NewInspector(inspect.Runner(s.runner))),
		pipeline.Builder(pkgbuild.NewBuilder(pkgbuild.Runner(s.runner))),
		pipeline.Cache(cache.NewStore(s.Paths.CacheDir)),
		pipeline.Catalog(s.CatalogClient),
		pipeline.Uploader(s.Uploader),
		pipeline.Notifier(s.Notifier),
		pipeline.History(s.HistoryStore),
		pipeline.Logger(log.With(s.logger, "component", "pipeline")),
		pipeline.VersionsToKeep(s.Run.VersionsToKeep),
	)
	if err != nil {
		s.err = err
		return
	}

	fieldKeys := []string{"method", "success"}
	requestCount := kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "intuneomator",
		Subsystem: "pipeline",
		Name:      "request_count",
		Help:      "Number of pipeline runs.",
	}, fieldKeys)
	requestLatency := kitprometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "intuneomator",
		Subsystem: "pipeline",
		Name:      "request_latency_seconds",
		Help:      "Total duration of pipeline runs.",
	}, fieldKeys)

	svc = pipeline.LoggingMiddleware(log.With(s.logger, "component", "pipeline"))(svc)
	svc = pipeline.InstrumentingMiddleware(requestCount, requestLatency)(svc)
	s.PipelineService = svc
}
