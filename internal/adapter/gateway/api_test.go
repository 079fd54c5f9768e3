package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teacher-agent/internal/infra/config"
)

func TestChatRoundTrip(t *testing.T) {
	h := newTestEnv(t, nil).handler(t)

	rec := do(t, h, http.MethodPost, "/api/chat", `{"message":"plan a worksheet on fractions","session_id":"t-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t-1", resp.SessionID)
	assert.Equal(t, "worksheet_generator_lesson_planner: plan a worksheet on fractions", resp.Response)

	rec = do(t, h, http.MethodGet, "/sessions", "")
	assert.JSONEq(t, `{"active_sessions":["t-1"]}`, rec.Body.String())
}

func TestChatGeneratesSessionID(t *testing.T) {
	h := newTestEnv(t, nil).handler(t)

	rec := do(t, h, http.MethodPost, "/chat", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "clarify: hello", resp.Response)
}

func TestChatRejectsBadInput(t *testing.T) {
	h := newTestEnv(t, nil).handler(t)

	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"invalid json", `{"message":`, "invalid JSON body"},
		{"empty", `{"message":"   "}`, "Message or image is required"},
		{"bad image", `{"image_data":"***"}`, "Invalid image data"},
		{"bad mime", `{"image_data":"aGk=","image_mime_type":"text/plain"}`, "Invalid image data: unsupported mime type text/plain"},
		{"bad session id", `{"message":"hi","session_id":"../etc"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Detail)
			assert.Contains(t, body.Detail, tt.detail)
		})
	}
}

func TestChatBodyTooLarge(t *testing.T) {
	h := newTestEnv(t, func(c *config.ServerConfig, _ *Deps) {
		c.MaxMessageBytes = 64
	}).handler(t)

	body := `{"message":"` + strings.Repeat("a", 200) + `"}`
	rec := do(t, h, http.MethodPost, "/chat", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds 64 bytes")
}

func TestChatCapabilityFailure(t *testing.T) {
	h := newTestEnv(t, nil).handler(t)

	rec := do(t, h, http.MethodPost, "/chat", `{"message":"show attendance for Aarav","session_id":"f-1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"database unavailable"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/sessions", "")
	assert.JSONEq(t, `{"active_sessions":["f-1"]}`, rec.Body.String(), "session survives a failed exchange")
}

func TestDeleteSession(t *testing.T) {
	h := newTestEnv(t, nil).handler(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/chat", `{"message":"hi","session_id":"d-1"}`).Code)

	rec := do(t, h, http.MethodDelete, "/session/d-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"deleted","message":"Session d-1 cleared"}`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/api/session/d-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"not_found","message":"Session d-1 not found"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/sessions", "")
	assert.JSONEq(t, `{"active_sessions":[]}`, rec.Body.String())
}
