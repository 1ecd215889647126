package service

import (
	"context"

	"FinGuard/internal/domain/models"
)

// Analyzer scores a record set from one of the three sources.
type Analyzer interface {
	AnalyzeBatch(ctx context.Context, rs *models.RecordSet) (*models.AnalysisResult, error)
	AnalyzeLive(ctx context.Context, rs *models.RecordSet) (*models.AnalysisResult, error)
	AnalyzeSimulated(ctx context.Context, rs *models.RecordSet) (*models.AnalysisResult, error)
}

// AnalyzerFactory hands out analyzers. Per-request factories return a fresh
// instance every call; pooled factories return a shared one.
type AnalyzerFactory interface {
	Analyzer() (Analyzer, error)
}
