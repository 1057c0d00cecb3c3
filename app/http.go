package app

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gilburns/intuneomator/pipeline"
	"github.com/gilburns/intuneomator/version"
)

func makeHTTPHandler(logger log.Logger, sm *serviceManager) http.Handler {
	pipelineHandler := pipeline.ServiceHandler(sm.PipelineService, sm.HistoryStore)

	mux := http.NewServeMux()
	mux.Handle("/v1/", pipelineHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/version", version.Handler())
	return mux
}

func serveHTTP(logger log.Logger, h http.Handler, addr string) error {
	logger.Log("msg", "serving http", "addr", addr)
	return http.ListenAndServe(addr, h)
}
