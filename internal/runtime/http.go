package runtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-speaker/internal/presence"
	"github.com/loqalabs/loqa-speaker/internal/protocol"
	"github.com/loqalabs/loqa-speaker/internal/speech"
)

const maxSayBody = 64 << 10

type statusResponse struct {
	Pipeline *speech.Status  `json:"pipeline,omitempty"`
	Bus      bool            `json:"bus_connected"`
	Peers    []presence.Peer `json:"peers,omitempty"`
}

func (r *Runtime) routes(metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.HandleFunc("POST /v1/say", r.handleSay)
	mux.HandleFunc("GET /v1/status", r.handleStatus)
	mux.HandleFunc("GET /v1/history", r.handleHistory)
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	busOK := !r.cfg.Bus.Enabled || r.bus.Healthy()
	intakeOK := r.intake == nil || r.intake.Healthy()
	if r.ready.Load() && busOK && intakeOK {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleSay(w http.ResponseWriter, req *http.Request) {
	var body protocol.SayRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxSayBody)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.SayAck{Reason: "invalid payload"})
		return
	}
	p, err := r.pipeline()
	if err != nil {
		r.logger.Error("speech pipeline unavailable", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, protocol.SayAck{Reason: "pipeline unavailable"})
		return
	}
	id, ok := p.QueueText(body.Text, body.Voice, body.Speed)
	if !ok {
		writeJSON(w, http.StatusUnprocessableEntity, protocol.SayAck{Reason: "text rejected"})
		return
	}
	writeJSON(w, http.StatusAccepted, protocol.SayAck{RequestID: id, Accepted: true})
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Bus: r.bus.Healthy()}
	if p := r.provider.Current(); p != nil {
		st := p.Status()
		resp.Pipeline = &st
	}
	if r.presence != nil {
		resp.Peers = r.presence.Peers()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit := r.cfg.Speech.MaxHistoryResults
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if n < limit || limit <= 0 {
			limit = n
		}
	}
	entries, err := r.journal.Recent(req.Context(), limit)
	if err != nil {
		r.logger.Error("journal query failed", slog.String("error", err.Error()))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
