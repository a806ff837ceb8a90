package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const elevenLabsEndpoint = "https://api.elevenlabs.io/v1/text-to-speech/"

// CreateSpeech renders companion text to audio with ElevenLabs.
func (a *API) CreateSpeech(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("input is required for tts")
	}

	requestBody := struct {
		Text    string `json:"text"`
		ModelID string `json:"model_id"`
	}{
		Text:    text,
		ModelID: "eleven_multilingual_v2",
	}
	requestBodyJSON, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, elevenLabsEndpoint+a.cfg.ElevenLabsVoiceID, bytes.NewBuffer(requestBodyJSON))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", a.cfg.ElevenLabsAPIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs error: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
