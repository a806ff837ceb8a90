package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent"

type geminiContent struct {
	Role  string `json:"role,omitempty"`
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

func textContent(role, text string) geminiContent {
	content := geminiContent{Role: role}
	content.Parts = append(content.Parts, struct {
		Text string `json:"text"`
	}{Text: text})
	return content
}

// ChatReply sends the conversation to Gemini and returns the companion's
// next message.
func (a *API) ChatReply(ctx context.Context, persona string, history []string, message string) (string, error) {
	if message == "" {
		return "", errors.New("message is required")
	}

	contents := []geminiContent{}
	for i, entry := range history {
		role := "user"
		if i%2 == 1 {
			role = "model"
		}
		contents = append(contents, textContent(role, entry))
	}
	contents = append(contents, textContent("user", message))

	requestBody := struct {
		SystemInstruction geminiContent   `json:"system_instruction"`
		Contents          []geminiContent `json:"contents"`
	}{
		SystemInstruction: textContent("", CompanionInstructions+" Persona: "+persona),
		Contents:          contents,
	}
	requestBodyJSON, err := json.Marshal(requestBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, geminiEndpoint+"?key="+a.cfg.GeminiAPIKey, bytes.NewBuffer(requestBodyJSON))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("Gemini returned %d", resp.StatusCode)
		return "", fmt.Errorf("gemini error: %d", resp.StatusCode)
	}

	var result struct {
		Candidates []struct {
			Content geminiContent `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini returned no candidates")
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}
