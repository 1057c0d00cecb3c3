package pipeline

import (
	"context"

	"github.com/go-kit/kit/endpoint"

	"github.com/gilburns/intuneomator/history"
)

type processLabelRequest struct {
	Folder string
}

type processLabelResponse struct {
	Outcome Outcome `json:"outcome"`
}

type listLabelsRequest struct{}

type labelInfo struct {
	Folder     string             `json:"folder"`
	Name       string             `json:"name"`
	TrackingID string             `json:"trackingId"`
	LastRun    *history.RunRecord `json:"lastRun,omitempty"`
}

type listLabelsResponse struct {
	Labels []labelInfo `json:"labels"`
	Err    error       `json:"error,omitempty"`
}

func (r listLabelsResponse) error() error { return r.Err }

func makeProcessLabelEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(processLabelRequest)
		out := svc.ProcessLabel(ctx, req.Folder)
		return processLabelResponse{Outcome: out}, nil
	}
}

func makeListLabelsEndpoint(svc Service, runs history.Datastore) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		defs, err := svc.ReadyLabels()
		if err != nil {
			return listLabelsResponse{Err: err}, nil
		}
		infos := make([]labelInfo, 0, len(defs))
		for _, def := range defs {
			info := labelInfo{
				Folder:     def.FolderName(),
				Name:       def.Name,
				TrackingID: def.TrackingID,
			}
			if runs != nil {
				// last-run info is best effort; a history error never
				// fails the listing
				if rec, err := runs.LastRun(def.FolderName()); err == nil {
					info.LastRun = rec
				}
			}
			infos = append(infos, info)
		}
		return listLabelsResponse{Labels: infos}, nil
	}
}
