package alerts

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

var (
	passesTotal   = metrics.NewCounter("promalert_passes_total")
	passErrors    = metrics.NewCounter("promalert_pass_errors_total")
	passesSkipped = metrics.NewCounter("promalert_pass_skipped_total")
	passDuration  = metrics.NewHistogram("promalert_pass_duration_seconds")
	ruleConflicts = metrics.NewCounter("promalert_rule_conflicts_total")
	rulePanics    = metrics.NewCounter("promalert_rule_panics_total")
)

func observePass(started time.Time, err error) {
	passesTotal.Inc()
	if err != nil {
		passErrors.Inc()
	}
	passDuration.UpdateDuration(started)
}

func observeResult(o Outcome) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`promalert_rule_results_total{outcome=%q}`, o)).Inc()
	if o == OutcomeConflict {
		ruleConflicts.Inc()
	}
}

func observeDelivery(r DeliveryResult) {
	status := "success"
	switch {
	case !r.Success:
		status = "failure"
	case r.Partial:
		status = "partial"
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`promalert_notifications_total{channel=%q,status=%q}`, r.Channel, status)).Inc()
}
