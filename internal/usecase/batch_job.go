package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"FinGuard/internal/services/analytics"
	"FinGuard/pkg/logger"
	"FinGuard/pkg/queue"
)

var _ queue.Job = (*BatchJob)(nil)

// BatchJob runs queued uploads through the batch adapter.
type BatchJob struct {
	svc *AnalysisService
	log *logger.Logger
}

func NewBatchJob(svc *AnalysisService, log *logger.Logger) *BatchJob {
	if log == nil {
		log = logger.Nop()
	}
	return &BatchJob{svc: svc, log: log}
}

func (j *BatchJob) Type() string { return JobTypeBatch }

// Handle analyses the payload under its pre-assigned id. Input the adapters
// reject is logged and dropped since a retry cannot fix it.
func (j *BatchJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.Decode[BatchPayload](payload)
	if err != nil {
		return err
	}
	if p.ID == "" {
		j.log.Error("batch job without id", logger.String("filename", p.Filename))
		return nil
	}

	_, err = j.svc.analyzeUpload(ctx, p.ID, p.Filename, strings.NewReader(p.CSV))
	if errors.Is(err, analytics.ErrSourceAdapter) {
		j.log.Warn("batch job rejected",
			logger.String("id", p.ID),
			logger.String("filename", p.Filename),
			logger.Error(err),
		)
		return nil
	}
	return err
}
