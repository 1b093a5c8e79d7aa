package fetch

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

// PrefetchReport 汇总一次预热的结果。Errors 以标识符为键记录失败原因。
type PrefetchReport struct {
	Requested int               `json:"requested"`
	Memory    int               `json:"memory"`
	Disk      int               `json:"disk"`
	Network   int               `json:"network"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

type prefetchOutcome struct {
	identifier string
	source     Source
	err        error
}

// Prefetch 以有限并发预热一批标识符，重复项只处理一次。ctx 结束后尚未开始的标识符记为失败。
func (o *Orchestrator) Prefetch(ctx context.Context, identifiers []string) PrefetchReport {
	unique := dedupe(identifiers)
	report := PrefetchReport{Requested: len(unique)}
	if len(unique) == 0 {
		return report
	}

	p := pool.NewWithResults[prefetchOutcome]().WithMaxGoroutines(o.prefetchLimit)
	for _, id := range unique {
		p.Go(func() prefetchOutcome {
			if err := ctx.Err(); err != nil {
				return prefetchOutcome{identifier: id, err: err}
			}
			result, err := o.Resolve(ctx, id)
			return prefetchOutcome{identifier: id, source: result.Source, err: err}
		})
	}

	for _, outcome := range p.Wait() {
		if outcome.err != nil {
			report.Failed++
			if report.Errors == nil {
				report.Errors = make(map[string]string)
			}
			report.Errors[outcome.identifier] = outcome.err.Error()
			continue
		}
		switch outcome.source {
		case SourceMemory:
			report.Memory++
		case SourceDisk:
			report.Disk++
		case SourceNetwork:
			report.Network++
		}
	}

	o.logger.WithFields(logrus.Fields{
		"action":    "prefetch",
		"requested": report.Requested,
		"memory":    report.Memory,
		"disk":      report.Disk,
		"network":   report.Network,
		"failed":    report.Failed,
	}).Info("prefetch_complete")
	return report
}

func dedupe(identifiers []string) []string {
	seen := make(map[string]struct{}, len(identifiers))
	out := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
