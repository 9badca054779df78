package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ─────────────────────────────────────────────────────────────────────────────
// Web server
// ─────────────────────────────────────────────────────────────────────────────

const (
	// maxMessageChars caps the inbound chat message; exactly this length is
	// still accepted.
	maxMessageChars = 2000

	// maxHistoryTurns is how many trailing history entries are forwarded.
	maxHistoryTurns = 6
)

const systemPersona = "You are an analyst for the Arbitrum DAO Season 3 Grant Program. " +
	"You have access to the complete dataset of all applications across all domains. " +
	"Answer questions about the data accurately and concisely. " +
	"Reference specific numbers and applications when relevant. " +
	"If asked about something not in the data, say so."

// chatTurn is one client-supplied conversation entry. Only the two allowed
// roles survive forwarding; anything else is silently dropped.
type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// writeJSON encodes v with the JSON content type and the given status.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError sends the service's uniform error shape.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// buildSystemPrompt composes the analyst persona, the optional period
// framing sentence and the generated report.
func buildSystemPrompt(report string, period reportingPeriod) string {
	var b strings.Builder
	b.WriteString(systemPersona)
	if period.active {
		b.WriteString(fmt.Sprintf(" The user is currently viewing the reporting period %s; frame period questions against that window.", period.label))
	}
	b.WriteString("\n\nHere is the complete dataset:\n\n")
	b.WriteString(report)
	return b.String()
}

// newMux registers all routes over the process-wide read-only state. The
// dataset may be nil, in which case chat answers 503 and stats are empty.
func newMux(ds *grantDataset, stats *statsDB, lm *anthropicClient, publicDir string) *http.ServeMux {
	mux := http.NewServeMux()

	// Static assets: entry page for the root path, file server for the rest.
	fileServer := http.FileServer(http.Dir(publicDir))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.ServeFile(w, r, filepath.Join(publicDir, "index.html"))
			return
		}
		fileServer.ServeHTTP(w, r)
	})

	// POST /api/chat — proxy a question to the LLM with generated context
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "POST only", 405)
			return
		}
		reqID := uuid.NewString()[:8]

		if !lm.configured() || ds == nil {
			writeError(w, 503, "Chat not configured")
			return
		}

		var req struct {
			Message     string     `json:"message"`
			History     []chatTurn `json:"history"`
			PeriodStart string     `json:"periodStart"`
			PeriodEnd   string     `json:"periodEnd"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, "Invalid message")
			return
		}
		if req.Message == "" || len(req.Message) > maxMessageChars {
			writeError(w, 400, "Invalid message")
			return
		}

		period := parsePeriod(req.PeriodStart, req.PeriodEnd)
		report := buildReport(ds, period)

		// Last 6 history entries, allowed roles only, then the new message.
		hist := req.History
		if len(hist) > maxHistoryTurns {
			hist = hist[len(hist)-maxHistoryTurns:]
		}
		msgs := make([]anthropicMessage, 0, len(hist)+1)
		for _, h := range hist {
			if h.Role == "user" || h.Role == "assistant" {
				msgs = append(msgs, anthropicMessage{Role: h.Role, Content: h.Content})
			}
		}
		msgs = append(msgs, anthropicMessage{Role: "user", Content: req.Message})

		log.Printf("CHAT[%s] msg_len=%d turns=%d period=%t context_chars=%d",
			reqID, len(req.Message), len(msgs), period.active, len(report))

		// A client disconnect does not abort the in-flight upstream call.
		reply, err := lm.complete(context.Background(), buildSystemPrompt(report, period), msgs)
		var ue *upstreamError
		if errors.As(err, &ue) {
			log.Printf("CHAT[%s] upstream HTTP %d: %s", reqID, ue.status, ue.body)
			writeError(w, 502, "LLM request failed")
			return
		}
		if err != nil {
			log.Printf("CHAT[%s] error: %v", reqID, err)
			writeError(w, 500, "Internal error")
			return
		}
		if reply == "" {
			reply = "No response"
		}
		writeJSON(w, 200, map[string]any{"reply": reply})
	})

	// GET /api/stats — program aggregates from the SQL mirror
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, stats.summary(ds))
	})

	// GET /api/report — the generated plain-text report, optionally windowed
	mux.HandleFunc("/api/report", func(w http.ResponseWriter, r *http.Request) {
		period := parsePeriod(r.URL.Query().Get("periodStart"), r.URL.Query().Get("periodEnd"))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, buildReport(ds, period))
	})

	return mux
}
