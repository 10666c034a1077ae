// Package alerts shapes anomalies into sink documents and delivers them.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-hotspots/internal/models"
	"github.com/miradorstack/mirador-hotspots/internal/utils"
)

// Sink accepts alert documents.
type Sink interface {
	WriteAlert(ctx context.Context, doc models.AlertDocument) error
}

var timeFields = []string{"start_time", "end_time"}

// Sender formats and writes alerts. Delivery is best effort: a failed document
// does not stop the rest of the batch.
type Sender struct {
	logger     *slog.Logger
	sink       Sink
	dropFields []string
}

// NewSender returns a Sender that strips dropFields from every alert record.
func NewSender(logger *slog.Logger, sink Sink, dropFields []string) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{logger: logger, sink: sink, dropFields: append([]string(nil), dropFields...)}
}

// Format converts an anomaly into the sink document. Record times are unified to epoch seconds.
func (s *Sender) Format(a models.Anomaly) models.AlertDocument {
	doc := models.NewAlertDocument(a)
	for _, f := range s.dropFields {
		delete(doc.Record, f)
	}
	for _, f := range timeFields {
		v, ok := doc.Record[f]
		if !ok {
			continue
		}
		if t, ok := utils.ParseRecordTime(v); ok {
			doc.Record[f] = t.Unix()
		}
	}
	return doc
}

// Send writes every anomaly and returns how many documents were accepted.
func (s *Sender) Send(ctx context.Context, anomalies []models.Anomaly) (int, error) {
	if s == nil || s.sink == nil || len(anomalies) == 0 {
		return 0, nil
	}
	var errs []error
	sent := 0
	for _, a := range anomalies {
		if err := s.sink.WriteAlert(ctx, s.Format(a)); err != nil {
			s.logger.Error("alert delivery failed",
				slog.String("job", a.Job),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", a.Job, err))
			continue
		}
		sent++
	}
	if sent > 0 {
		s.logger.Info("alerts sent", slog.Int("count", sent))
	}
	return sent, errors.Join(errs...)
}
