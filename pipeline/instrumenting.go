package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics"
)

type instrumentingMiddleware struct {
	requestCount   metrics.Counter
	requestLatency metrics.Histogram
	Service
}

// InstrumentingMiddleware records request counts and latencies per method
// and outcome.
func InstrumentingMiddleware(count metrics.Counter, latency metrics.Histogram) func(Service) Service {
	return func(next Service) Service {
		return instrumentingMiddleware{
			requestCount:   count,
			requestLatency: latency,
			Service:        next,
		}
	}
}

func (mw instrumentingMiddleware) ProcessLabel(ctx context.Context, folderName string) (out Outcome) {
	defer func(begin time.Time) {
		labels := []string{"method", "ProcessLabel", "success", fmt.Sprintf("%t", out.Success)}
		mw.requestCount.With(labels...).Add(1)
		mw.requestLatency.With(labels...).Observe(time.Since(begin).Seconds())
	}(time.Now())
	out = mw.Service.ProcessLabel(ctx, folderName)
	return out
}

func (mw instrumentingMiddleware) ProcessAll(ctx context.Context) (outs []Outcome) {
	defer func(begin time.Time) {
		success := true
		for _, o := range outs {
			if !o.Success {
				success = false
			}
		}
		labels := []string{"method", "ProcessAll", "success", fmt.Sprintf("%t", success)}
		mw.requestCount.With(labels...).Add(1)
		mw.requestLatency.With(labels...).Observe(time.Since(begin).Seconds())
	}(time.Now())
	outs = mw.Service.ProcessAll(ctx)
	return outs
}
