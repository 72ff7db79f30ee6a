package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	joinArbiter  string
	joinRoom     string
	joinID       string
	joinEndpoint string
	joinPriority int
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Create a room if needed and register this agent in it",
	RunE:  runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)
	joinCmd.Flags().StringVar(&joinArbiter, "arbiter", "http://localhost:8080", "Arbiter base URL")
	joinCmd.Flags().StringVar(&joinRoom, "room", "lobby", "Room ID")
	joinCmd.Flags().StringVar(&joinID, "id", "", "Participant ID")
	joinCmd.Flags().StringVar(&joinEndpoint, "endpoint", "http://localhost:9000", "Webhook base URL of this agent")
	joinCmd.Flags().IntVar(&joinPriority, "priority", 0, "Role tier, higher wins ties")
	_ = joinCmd.MarkFlagRequired("id")
}

func runJoin(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	base := strings.TrimRight(joinArbiter, "/")
	if err := call(ctx, http.MethodPost, base+"/rooms", map[string]string{"id": joinRoom}); err != nil {
		return fmt.Errorf("create room: %w", err)
	}

	path := fmt.Sprintf("%s/rooms/%s/participants/%s", base, joinRoom, joinID)
	body := map[string]interface{}{"priority": joinPriority, "endpoint": joinEndpoint}
	if err := call(ctx, http.MethodPut, path, body); err != nil {
		return fmt.Errorf("register participant: %w", err)
	}

	logger.Info().
		Str("room", joinRoom).
		Str("participant", joinID).
		Int("priority", joinPriority).
		Msg("joined room")
	return nil
}

func call(ctx context.Context, method, url string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("%s %s: %d %s", method, url, resp.StatusCode, errResp.Error)
	}
	return nil
}
