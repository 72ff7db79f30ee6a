package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/aicq-arbiter/internal/agent"
)

var (
	serveAddr     string
	serveName     string
	serveKeywords []string
	serveBase     float64
	serveDelay    time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve POST /evaluate and POST /respond",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":9000", "Listen address")
	serveCmd.Flags().StringVar(&serveName, "name", "mockagent", "Name used in replies")
	serveCmd.Flags().StringSliceVar(&serveKeywords, "keywords", nil, "Topics this agent is confident about")
	serveCmd.Flags().Float64Var(&serveBase, "base", 0.2, "Confidence with no keyword match")
	serveCmd.Flags().DurationVar(&serveDelay, "delay", 0, "Artificial evaluation latency")
}

func runServe(cmd *cobra.Command, args []string) error {
	s := newScorer(serveKeywords, serveBase)
	srv := &http.Server{
		Addr:         serveAddr,
		Handler:      newAgentRouter(serveName, s, serveDelay),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	logger.Info().
		Str("addr", serveAddr).
		Str("name", serveName).
		Strs("keywords", serveKeywords).
		Msg("mock agent listening")
	return srv.ListenAndServe()
}

func newAgentRouter(name string, s *scorer, delay time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Post("/evaluate", func(w http.ResponseWriter, r *http.Request) {
		var req agent.EvaluateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		confidence, matched := s.score(req.Message.Content)
		reason := "no matching topic"
		if len(matched) > 0 {
			reason = "matched " + strings.Join(matched, ", ")
		}
		logger.Debug().
			Str("message_id", req.Message.ID).
			Float64("confidence", confidence).
			Msg("evaluated")
		writeJSON(w, http.StatusOK, agent.Evaluation{Confidence: confidence, Reason: reason})
	})

	r.Post("/respond", func(w http.ResponseWriter, r *http.Request) {
		var req agent.EvaluateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		_, matched := s.score(req.Message.Content)
		content := fmt.Sprintf("%s here. I saw %d earlier messages.", name, len(req.Window))
		if len(matched) > 0 {
			content = fmt.Sprintf("%s here, happy to help with %s.", name, strings.Join(matched, " and "))
		}
		writeJSON(w, http.StatusOK, agent.RespondResponse{Content: content})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
