package models

// Requests for analysis HTTP endpoints. Defined in domain for consistency and reuse.

type UploadRequest struct {
	Async bool `query:"async" json:"async"`
}

// LiveRequest.Limit of 0 means the configured default.
type LiveRequest struct {
	Limit int `query:"limit" json:"limit" validate:"omitempty,gte=1,lte=1000"`
}

type SimulateRequest struct {
	NumTransactions int   `json:"num_transactions" default:"50" validate:"gte=1,lte=10000"`
	Seed            int64 `json:"seed"`
}

type GetAnalysisRequest struct {
	ID string `param:"id" validate:"required,uuid"`
}

type ListAnalysesRequest struct {
	Source string `query:"source" validate:"omitempty,oneof=upload live simulated"`
	Since  string `query:"since" validate:"omitempty,timestamp"` // RFC3339 or unix seconds/millis
	Limit  int    `query:"limit" default:"20" validate:"gte=1,lte=200"`
}

// SimulateResponse pairs a simulated analysis with the rows it was computed on.
type SimulateResponse struct {
	Analysis     *AnalysisResult        `json:"analysis"`
	Transactions []SimulatedTransaction `json:"transactions"`
}

// QueuedResponse is returned when an upload is analysed asynchronously.
type QueuedResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
