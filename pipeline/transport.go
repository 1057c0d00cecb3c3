package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"

	"github.com/gilburns/intuneomator/history"
)

var errBadRoute = errors.New("bad route")

// ServiceHandler returns an HTTP handler for the pipeline service, the
// control surface of daemon mode. runs may be nil; the label listing then
// omits last-run info.
func ServiceHandler(svc Service, runs history.Datastore) http.Handler {
	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(encodeError),
	}

	processLabelHandler := kithttp.NewServer(
		makeProcessLabelEndpoint(svc),
		decodeProcessLabelRequest,
		encodeResponse,
		opts...,
	)
	listLabelsHandler := kithttp.NewServer(
		makeListLabelsEndpoint(svc, runs),
		decodeListLabelsRequest,
		encodeResponse,
		opts...,
	)

	r := mux.NewRouter()
	r.Handle("/v1/labels", listLabelsHandler).Methods("GET")
	r.Handle("/v1/labels/{folder}/process", processLabelHandler).Methods("POST")
	return r
}

func decodeProcessLabelRequest(_ context.Context, r *http.Request) (interface{}, error) {
	vars := mux.Vars(r)
	folder, ok := vars["folder"]
	if !ok {
		return nil, errBadRoute
	}
	return processLabelRequest{Folder: folder}, nil
}

func decodeListLabelsRequest(_ context.Context, r *http.Request) (interface{}, error) {
	return listLabelsRequest{}, nil
}

func encodeResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	if e, ok := response.(errorer); ok && e.error() != nil {
		encodeError(ctx, e.error(), w)
		return nil
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(response)
}

type errorer interface {
	error() error
}

// encode errors from business-logic
func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	switch err {
	case errBadRoute:
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": err.Error(),
	})
}
