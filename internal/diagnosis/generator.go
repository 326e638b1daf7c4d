// Package diagnosis generates differential diagnosis lists by calling a
// messages-style LLM inference endpoint with a compact clinical prompt.
package diagnosis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/logger"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	maxTokens        = 512
	temperature      = 0.3
)

// Generator calls the inference endpoint for differential diagnoses.
type Generator struct {
	endpoint  string
	modelID   string
	authToken string
	client    *http.Client
	logger    *logger.Logger
}

// NewGenerator creates a generator from the model configuration.
func NewGenerator(cfg *config.ModelConfig, log *logger.Logger) *Generator {
	return &Generator{
		endpoint:  cfg.DiagnosisEndpoint,
		modelID:   cfg.DiagnosisModelID,
		authToken: cfg.AuthToken,
		client:    &http.Client{Timeout: 60 * time.Second},
		logger:    log,
	}
}

// buildPrompt keeps PHI out of the request: only the condensed patient
// summary string and the stated symptoms are sent.
func buildPrompt(symptoms, patientSummary string) string {
	return "You are a board-certified physician AI. Given the patient information " +
		"and current symptoms, provide a differential diagnosis list ranked by " +
		"likelihood with a brief rationale for each item.\n\n" +
		"Patient information:\n" + patientSummary + "\n\n" +
		"Current symptoms:\n" + strings.TrimSpace(symptoms) + "\n\n" +
		"Format your answer as:\n1. Diagnosis - Rationale\n2. ..."
}

// Generate returns the plain-text ranked diagnosis list.
func (g *Generator) Generate(ctx context.Context, symptoms, patientSummary string) (string, error) {
	body := map[string]interface{}{
		"anthropic_version": anthropicVersion,
		"max_tokens":        maxTokens,
		"temperature":       temperature,
		"messages": []map[string]interface{}{
			{"role": "user", "content": buildPrompt(symptoms, patientSummary)},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding diagnosis request: %w", err)
	}

	url := strings.TrimRight(g.endpoint, "/") + "/model/" + g.modelID + "/invoke"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building diagnosis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.authToken)
	}

	g.logger.WithField("model_id", g.modelID).Info("Invoking differential diagnosis model")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("diagnosis request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading diagnosis response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("diagnosis model returned HTTP %d", resp.StatusCode)
	}

	var decoded struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decoding diagnosis response: %w", err)
	}
	if len(decoded.Content) == 0 || decoded.Content[0].Text == "" {
		// Surface whatever the model sent rather than losing it.
		return string(respBody), nil
	}
	return decoded.Content[0].Text, nil
}
