package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
	"github.com/zatekoja/clinicalnotes/backend/pkg/config"
	apperrors "github.com/zatekoja/clinicalnotes/backend/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&config.OpenAIConfig{APIKey: "sk-test", RateLimitRPM: -1})
	require.NoError(t, err)
	client.baseURL = server.URL
	return client
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(&config.OpenAIConfig{})
	assert.Error(t, err)
}

func TestClient_EnhanceReturnsModelJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])

		text := "```json\n{\"sections\":{\"plan\":{\"items\":[\"rest\"]}}}\n```"
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"output": []interface{}{
				map[string]interface{}{
					"content": []interface{}{
						map[string]string{"type": "output_text", "text": text},
					},
				},
			},
		})
	})

	result, err := client.Enhance(context.Background(), entities.EnhanceRequest{
		CorrelationID: "corr-1",
		ClinicalNotes: "headache for two days",
	})
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, `{"sections":{"plan":{"items":["rest"]}}}`, string(result.Payload))
}

func TestClient_EnhanceErrors(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		_, err := client.Enhance(context.Background(), entities.EnhanceRequest{ClinicalNotes: "x"})
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExternal))
	})

	t.Run("missing output", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"output":[]}`))
		})
		_, err := client.Enhance(context.Background(), entities.EnhanceRequest{ClinicalNotes: "x"})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExternal))
	})

	t.Run("empty note", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := client.Enhance(context.Background(), entities.EnhanceRequest{})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	})
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `[1]`, stripCodeFence("```\n[1]\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("  {\"a\":1} "))
}

func TestBuildEnhancementUserPrompt(t *testing.T) {
	prompt := buildEnhancementUserPrompt(entities.EnhanceRequest{
		CorrelationID:  "corr-1",
		ClinicalNotes:  "cough",
		PatientContext: entities.PatientContext{Age: 40, Sex: "F"},
	})
	assert.Contains(t, prompt, "Correlation ID: corr-1")
	assert.Contains(t, prompt, "Patient age: 40")
	assert.Contains(t, prompt, "Clinical note:\ncough")
}
