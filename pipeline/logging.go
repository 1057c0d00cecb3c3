package pipeline

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/gilburns/intuneomator/label"
)

type loggingMiddleware struct {
	logger log.Logger
	Service
}

// LoggingMiddleware logs every pipeline operation with its outcome.
func LoggingMiddleware(logger log.Logger) func(Service) Service {
	return func(next Service) Service {
		return loggingMiddleware{logger: logger, Service: next}
	}
}

func (mw loggingMiddleware) ProcessLabel(ctx context.Context, folderName string) (out Outcome) {
	defer func(begin time.Time) {
		_ = mw.logger.Log(
			"method", "ProcessLabel",
			"label", folderName,
			"version", out.Version,
			"success", out.Success,
			"skipped", out.Skipped,
			"took", time.Since(begin),
		)
	}(time.Now())
	out = mw.Service.ProcessLabel(ctx, folderName)
	return out
}

func (mw loggingMiddleware) ProcessAll(ctx context.Context) (outs []Outcome) {
	defer func(begin time.Time) {
		var failed int
		for _, o := range outs {
			if !o.Success {
				failed++
			}
		}
		_ = mw.logger.Log(
			"method", "ProcessAll",
			"labels", len(outs),
			"failed", failed,
			"took", time.Since(begin),
		)
	}(time.Now())
	outs = mw.Service.ProcessAll(ctx)
	return outs
}

func (mw loggingMiddleware) ReadyLabels() (defs []label.Definition, err error) {
	defer func(begin time.Time) {
		_ = mw.logger.Log(
			"method", "ReadyLabels",
			"count", len(defs),
			"err", err,
			"took", time.Since(begin),
		)
	}(time.Now())
	defs, err = mw.Service.ReadyLabels()
	return defs, err
}
