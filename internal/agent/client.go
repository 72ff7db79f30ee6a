package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eldtechnologies/aicq-arbiter/internal/models"
)

// maxResponseBytes bounds a webhook reply body.
const maxResponseBytes = 1 << 20

// Client is an Agent reached over HTTP. The remote side exposes
// POST /evaluate and POST /respond, both taking an EvaluateRequest.
type Client struct {
	BaseURL       string
	ParticipantID string
	HTTPClient    *http.Client
}

// NewClient creates a webhook agent client for one participant.
func NewClient(baseURL, participantID string) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		ParticipantID: participantID,
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// EvaluateRequest is the body sent to the remote agent.
type EvaluateRequest struct {
	ParticipantID string           `json:"participant_id"`
	Message       models.Message   `json:"message"`
	Window        []models.Message `json:"window"`
}

// RespondResponse is the body returned by POST /respond.
type RespondResponse struct {
	Content string `json:"content"`
}

// Evaluate asks the remote agent for its confidence.
func (c *Client) Evaluate(ctx context.Context, msg models.Message, window []models.Message) (Evaluation, error) {
	var eval Evaluation
	if err := c.post(ctx, "/evaluate", msg, window, &eval); err != nil {
		return Evaluation{}, err
	}
	eval.Confidence = Clamp(eval.Confidence)
	return eval, nil
}

// Respond asks the remote agent to produce its answer.
func (c *Client) Respond(ctx context.Context, msg models.Message, window []models.Message) (string, error) {
	var resp RespondResponse
	if err := c.post(ctx, "/respond", msg, window, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// post performs a JSON POST and decodes the response into out.
func (c *Client) post(ctx context.Context, path string, msg models.Message, window []models.Message, out interface{}) error {
	body, err := json.Marshal(EvaluateRequest{
		ParticipantID: c.ParticipantID,
		Message:       msg,
		Window:        window,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return err
	}
	if len(respBody) > maxResponseBytes {
		return fmt.Errorf("agent %s response exceeds %d bytes", c.ParticipantID, maxResponseBytes)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return fmt.Errorf("agent %s error %d: %s", c.ParticipantID, resp.StatusCode, errResp.Error)
	}

	return json.Unmarshal(respBody, out)
}
