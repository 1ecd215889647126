package models

import "time"

// Source identifies where an analysed record set came from.
type Source string

const (
	SourceUpload    Source = "upload"
	SourceLive      Source = "live"
	SourceSimulated Source = "simulated"
)

// TimestampLayout is the ISO-8601 layout used for analysis_timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// AnalysisResult is the record handed back by the scoring engine.
// ID, Source and Filename are filled in by the service layer.
type AnalysisResult struct {
	ID                 string               `json:"id,omitempty"`
	Source             Source               `json:"source,omitempty"`
	Filename           string               `json:"filename,omitempty"`
	TotalTransactions  int                  `json:"total_transactions"`
	AnomaliesDetected  int                  `json:"anomalies_detected"`
	AccuracyScore      float64              `json:"accuracy_score"`
	AnomalyIndices     []int                `json:"anomaly_indices"`
	AnalysisTimestamp  string               `json:"analysis_timestamp"`
	ModelPredictions   map[string][]int     `json:"model_predictions,omitempty"`
	ModelProbabilities map[string][]float64 `json:"model_probabilities,omitempty"`
	EnsemblePrediction []int                `json:"ensemble_prediction,omitempty"`
	LiveData           bool                 `json:"live_data,omitempty"`
	SimulatedData      bool                 `json:"simulated_data,omitempty"`
	TrueAnomalies      *int                 `json:"true_anomalies,omitempty"`
	AnalysisTime       *float64             `json:"analysis_time,omitempty"`
}

// FormatTimestamp renders t in the analysis_timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// AnomalyRate returns flagged rows over total rows, 0 for an empty result.
func (r *AnalysisResult) AnomalyRate() float64 {
	if r.TotalTransactions == 0 {
		return 0
	}
	return float64(r.AnomaliesDetected) / float64(r.TotalTransactions)
}

// AnalysisFilter selects stored results for listing. Zero values match all.
type AnalysisFilter struct {
	Source Source
	Since  time.Time
	Limit  int
}

// AnalysisEvent is published after every completed analysis.
type AnalysisEvent struct {
	Type      string          `json:"type"` // "analysis.completed" | "anomaly.alert"
	Severity  string          `json:"severity,omitempty"`
	Message   string          `json:"message,omitempty"`
	Result    *AnalysisResult `json:"result"`
	Published time.Time       `json:"published"`
}

const (
	EventAnalysisCompleted = "analysis.completed"
	EventAnomalyAlert      = "anomaly.alert"
)
