package monitoring

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/afpanel/internal/model"
)

// Checker raises alerts at the end of a run. Alert failures are logged and
// never change the run's outcome.
type Checker struct {
	collector *Collector
	alerter   *Alerter
}

// NewChecker creates an end-of-run alert checker.
func NewChecker(collector *Collector, alerter *Alerter) *Checker {
	return &Checker{collector: collector, alerter: alerter}
}

// Check evaluates the finished run and sends any alerts. It returns the
// number of alerts sent.
func (c *Checker) Check(ctx context.Context, run *model.Run, skipped []SkippedProject) int {
	log := zap.L().With(
		zap.String("component", "monitoring.checker"),
		zap.String("run_id", run.ID),
	)
	if !c.alerter.Enabled() {
		log.Debug("monitoring: no webhook configured")
		return 0
	}

	snap, err := c.collector.Collect(ctx, run, skipped)
	if err != nil {
		log.Error("monitoring: failed to collect run context", zap.Error(err))
		return 0
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}
