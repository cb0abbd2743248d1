package queue

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := models.CrawlMessage{
		JobID:         "job-42",
		URL:           "https://example.gov/schemes",
		CurrentStatus: models.StatusWebCrawling,
		Metadata:      map[string]any{"depth": float64(2)},
	}

	body, err := Encode(msg)
	require.NoError(t, err)

	payload, err := Decode(body)
	require.NoError(t, err)

	var decoded models.CrawlMessage
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestEncodeStampsMessageID(t *testing.T) {
	first, err := Encode(models.CrawlMessage{JobID: "j1"})
	require.NoError(t, err)
	second, err := Encode(models.CrawlMessage{JobID: "j1"})
	require.NoError(t, err)

	envFirst, err := DecodeEnvelope(first)
	require.NoError(t, err)
	envSecond, err := DecodeEnvelope(second)
	require.NoError(t, err)

	assert.NotEmpty(t, envFirst.MessageID)
	assert.NotEqual(t, envFirst.MessageID, envSecond.MessageID,
		"each encoded message gets its own id")
}

func TestDecodeLegacyFraming(t *testing.T) {
	// Older producers sent bare base64 JSON without the envelope wrapper.
	raw := []byte(`{"job_id":"j1","url":"https://example.gov","current_status":"WebCrawling"}`)
	body := []byte(base64.StdEncoding.EncodeToString(raw))

	payload, err := Decode(body)
	require.NoError(t, err)

	var decoded models.CrawlMessage
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "j1", decoded.JobID)
	assert.Equal(t, models.StatusWebCrawling, decoded.CurrentStatus)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"not base64", []byte("{json-without-encoding}")},
		{"base64 of non-JSON", []byte(base64.StdEncoding.EncodeToString([]byte("hello")))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.body)
			assert.Error(t, err)
		})
	}
}

func TestPayloadStatus(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"current_status", `{"current_status":"WebCrawling"}`, "WebCrawling"},
		{"status only", `{"status":"scraped"}`, "scraped"},
		{"current_status wins", `{"current_status":"QueryAnalyst","status":"scraped"}`, "QueryAnalyst"},
		{"neither", `{"job_id":"x"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PayloadStatus(json.RawMessage(tt.payload)))
		})
	}
}
