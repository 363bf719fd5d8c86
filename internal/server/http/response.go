package httpserver

import (
	"time"

	"github.com/helixir/keyword-research-service/internal/domain"
	"github.com/helixir/keyword-research-service/internal/eventual"
)

// Batch response types for JSON serialization.

type countsResponse struct {
	Total            int `json:"total"`
	Pending          int `json:"pending"`
	Processing       int `json:"processing"`
	Completed        int `json:"completed"`
	Error            int `json:"error"`
	TotalResultCount int `json:"total_result_count"`
}

type jobResponse struct {
	ID               string     `json:"id"`
	Position         int        `json:"position"`
	Keyword          string     `json:"keyword"`
	State            string     `json:"state"`
	TrackingRecordID string     `json:"tracking_record_id,omitempty"`
	ResultCount      int        `json:"result_count"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

type batchResponse struct {
	BatchID     string         `json:"batch_id"`
	ClientID    string         `json:"client_id"`
	Country     string         `json:"country"`
	Language    string         `json:"language"`
	Status      string         `json:"status"`
	Concurrency int            `json:"concurrency"`
	Counts      countsResponse `json:"counts"`
	Jobs        []jobResponse  `json:"jobs,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Duration    string         `json:"duration,omitempty"`
}

type listBatchesResponse struct {
	Batches    []batchResponse `json:"batches"`
	TotalCount int             `json:"total_count"`
}

type researchItemResponse struct {
	Keyword      string  `json:"keyword"`
	SearchVolume int64   `json:"search_volume"`
	Competition  float64 `json:"competition"`
	CPC          float64 `json:"cpc"`
	Difficulty   int     `json:"difficulty"`
	Intent       string  `json:"intent,omitempty"`
}

type recordKeywordsResponse struct {
	TrackingRecordID string                 `json:"tracking_record_id"`
	Kind             string                 `json:"kind"`
	Ready            bool                   `json:"ready"`
	Attempts         int                    `json:"attempts"`
	Items            []researchItemResponse `json:"items"`
}

// Converter functions

func snapshotToResponse(s domain.BatchSnapshot) batchResponse {
	resp := batchResponse{
		BatchID:     s.BatchID.String(),
		ClientID:    s.Params.ClientID,
		Country:     s.Params.Country,
		Language:    s.Params.Language,
		Status:      string(s.Status),
		Concurrency: s.Concurrency,
		Counts: countsResponse{
			Total:            s.Counts.Total(),
			Pending:          s.Counts.Pending,
			Processing:       s.Counts.Processing,
			Completed:        s.Counts.Completed,
			Error:            s.Counts.Error,
			TotalResultCount: s.Counts.TotalResultCount,
		},
		CreatedAt:  s.CreatedAt,
		FinishedAt: s.FinishedAt,
	}
	if s.FinishedAt != nil {
		resp.Duration = s.FinishedAt.Sub(s.CreatedAt).String()
	}
	if len(s.Jobs) > 0 {
		resp.Jobs = make([]jobResponse, len(s.Jobs))
		for i, j := range s.Jobs {
			resp.Jobs[i] = jobToResponse(j)
		}
	}
	return resp
}

func jobToResponse(j domain.Job) jobResponse {
	return jobResponse{
		ID:               j.ID.String(),
		Position:         j.Position,
		Keyword:          j.Keyword,
		State:            string(j.State),
		TrackingRecordID: j.TrackingRecordID,
		ResultCount:      j.ResultCount,
		ErrorMessage:     j.ErrorMessage,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
	}
}

func outcomeToResponse(recordID string, kind domain.ResultKind, out eventual.Outcome) recordKeywordsResponse {
	items := make([]researchItemResponse, len(out.Result.Items))
	for i, it := range out.Result.Items {
		items[i] = researchItemResponse{
			Keyword:      it.Keyword,
			SearchVolume: it.SearchVolume,
			Competition:  it.Competition,
			CPC:          it.CPC,
			Difficulty:   it.Difficulty,
			Intent:       it.Intent,
		}
	}
	return recordKeywordsResponse{
		TrackingRecordID: recordID,
		Kind:             string(kind),
		Ready:            out.Ready,
		Attempts:         out.Attempts,
		Items:            items,
	}
}
