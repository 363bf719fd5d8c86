package research

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/helixir/keyword-research-service/internal/domain"
)

const (
	// maxResponseBytes bounds decoded response bodies.
	maxResponseBytes = 10 << 20
	// maxErrorBytes bounds error bodies read for their message.
	maxErrorBytes = 1 << 20
	// maxMessageBytes bounds the remote message kept on an error, since it
	// ends up on jobs, in storage and in published events.
	maxMessageBytes = 512
)

// envelope is the response wrapper every research API endpoint uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (e envelope) errorMessage() string {
	if e.Error != "" {
		return truncateMessage(e.Error)
	}
	return truncateMessage(e.Message)
}

// truncateMessage trims s and cuts it to maxMessageBytes on a rune boundary.
func truncateMessage(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxMessageBytes {
		return s
	}
	cut := s[:maxMessageBytes]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}

type createRecordRequest struct {
	Keyword  string `json:"keyword"`
	ClientID string `json:"client_id"`
	Country  string `json:"country"`
	Language string `json:"language"`
}

type createRecordData struct {
	ID string `json:"id"`
}

type runActionRequest struct {
	Keyword  string `json:"keyword"`
	Country  string `json:"country"`
	Language string `json:"language"`
}

type patchRecordRequest struct {
	Status    string `json:"status"`
	ItemCount int    `json:"item_count"`
}

type itemsData struct {
	Items []itemDTO `json:"items"`
}

type itemDTO struct {
	Keyword      string  `json:"keyword"`
	SearchVolume int64   `json:"search_volume"`
	Competition  float64 `json:"competition"`
	CPC          float64 `json:"cpc"`
	Difficulty   int     `json:"keyword_difficulty"`
	Intent       string  `json:"intent"`
}

// toDomain converts wire items, dropping entries without a keyword.
func toDomain(items []itemDTO) []domain.ResearchItem {
	out := make([]domain.ResearchItem, 0, len(items))
	for _, it := range items {
		if it.Keyword == "" {
			continue
		}
		out = append(out, domain.ResearchItem{
			Keyword:      it.Keyword,
			SearchVolume: it.SearchVolume,
			Competition:  it.Competition,
			CPC:          it.CPC,
			Difficulty:   it.Difficulty,
			Intent:       it.Intent,
		})
	}
	return out
}

// decodeEnvelope validates the HTTP status and the success flag and returns
// the envelope's data. Any failure is reported as an ExternalAPIError that
// carries the remote message when one was supplied.
func decodeEnvelope(resp *http.Response) (json.RawMessage, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp)
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env); err != nil {
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, "", fmt.Errorf("decoding response: %w", err))
	}
	if !env.Success {
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, env.errorMessage(), nil)
	}
	return env.Data, nil
}

// errorFromResponse builds an ExternalAPIError from a non-2xx response.
func errorFromResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	if err != nil {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, "failed to read error response", err)
	}

	var cause error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		cause = domain.ErrNotFound
	case resp.StatusCode >= 500:
		cause = domain.ErrServiceUnavailable
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.errorMessage() != "" {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, env.errorMessage(), cause)
	}
	msg := truncateMessage(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return domain.NewExternalAPIError(sourceName, resp.StatusCode, msg, cause)
}

// decodeData unmarshals an envelope's data into v.
func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return domain.NewExternalAPIError(sourceName, http.StatusOK, "", fmt.Errorf("decoding data: %w", err))
	}
	return nil
}
