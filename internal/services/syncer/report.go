package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/BearBump/TrackSync/internal/models"
)

const publishTimeout = 5 * time.Second

func (s *Syncer) record(res models.ShipmentResult) {
	s.totalAttempted.Add(1)
	switch res.Outcome {
	case models.OutcomeSuccess:
		s.totalSucceeded.Add(1)
	case models.OutcomeSkipped:
		s.totalSkipped.Add(1)
	default:
		s.totalFailed.Add(1)
		s.setLastError(res.Shipment.String() + ": " + res.Message)
	}
	if s.metrics != nil {
		s.metrics.ObserveShipment(res)
	}
}

// finish closes the report and hands it to the optional sinks. Sink failures
// are logged only: the pass itself already happened.
func (s *Syncer) finish(ctx context.Context, report *models.RunReport, err error) *models.RunReport {
	report.FinishedAt = s.now()
	if err != nil {
		report.Fatal = err.Error()
		s.setLastError(err.Error())
	}

	slog.Info("sync run finished",
		"pending", report.Pending,
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
		"not_started", report.NotStarted,
		"partial", report.Partial,
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	if rate := report.FailureRate(); rate > 0.5 && report.Attempted > 1 {
		slog.Warn("high failure rate, carrier page layout may have changed", "rate", rate)
	}

	if s.metrics != nil {
		s.metrics.ObserveRun(report, err)
	}

	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()

	// родительский контекст мог уже истечь, а итог прогона всё равно нужен
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if s.store != nil {
		if serr := s.store.SaveReport(sinkCtx, report); serr != nil {
			slog.Warn("save run report", "error", serr.Error())
		}
	}
	if s.producer != nil && s.topics.RunCompleted != "" {
		if perr := s.producer.PublishJSON(sinkCtx, s.topics.RunCompleted, runCompletedKey, completedMessage(report)); perr != nil {
			slog.Warn("publish run completed", "error", perr.Error())
		}
	}
	return report
}

func (s *Syncer) publishSynced(ctx context.Context, upd models.ShipmentUpdate) {
	if s.producer == nil || s.topics.ShipmentSynced == "" {
		return
	}
	msg := messages.ShipmentSynced{
		InvoiceNumber: upd.InvoiceNumber,
		Document:      upd.Document,
		Carrier:       upd.Carrier,
		SyncedAt:      s.now(),
		CurrentStatus: upd.CurrentStatus,
		LastUpdate:    upd.LastUpdate,
		EventsCount:   len(upd.Events),
	}
	for _, ev := range upd.Events {
		if ev.UnknownCode {
			msg.UnknownCodes = append(msg.UnknownCodes, ev.OccurrenceCode)
		}
	}
	if err := s.producer.PublishJSON(ctx, s.topics.ShipmentSynced, upd.Ref().String(), msg); err != nil {
		slog.Warn("publish shipment synced", "shipment", upd.Ref().String(), "error", err.Error())
	}
}

func completedMessage(r *models.RunReport) messages.TrackingSyncCompleted {
	msg := messages.TrackingSyncCompleted{
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Pending:    r.Pending,
		Attempted:  r.Attempted,
		Succeeded:  r.Succeeded,
		Skipped:    len(r.Skipped),
		Failed:     len(r.Failed),
		NotStarted: r.NotStarted,
		Partial:    r.Partial,
	}
	if len(r.Failed) > 0 {
		msg.FailedByKind = make(map[string]int)
		for _, f := range r.Failed {
			msg.FailedByKind[string(f.ErrorKind)]++
		}
	}
	if r.Fatal != "" {
		fatal := r.Fatal
		msg.Error = &fatal
	}
	return msg
}

func (s *Syncer) setLastError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	Running        bool       `json:"running"`
	TotalRuns      int64      `json:"totalRuns"`
	TotalAttempted int64      `json:"totalAttempted"`
	TotalSucceeded int64      `json:"totalSucceeded"`
	TotalSkipped   int64      `json:"totalSkipped"`
	TotalFailed    int64      `json:"totalFailed"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (s *Syncer) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		Running:        s.running.Load(),
		TotalRuns:      s.totalRuns.Load(),
		TotalAttempted: s.totalAttempted.Load(),
		TotalSucceeded: s.totalSucceeded.Load(),
		TotalSkipped:   s.totalSkipped.Load(),
		TotalFailed:    s.totalFailed.Load(),
		InFlight:       s.inFlight.Load(),
	}
	if n := s.lastRunUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	s.mu.Lock()
	st.LastError = s.lastError
	s.mu.Unlock()
	return st
}

// LastReport returns the report of the most recent finished pass on this
// replica, nil before the first one.
func (s *Syncer) LastReport() *models.RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}
