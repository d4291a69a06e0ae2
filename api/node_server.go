package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"votemesh/encryption"
	"votemesh/models"
	"votemesh/service"
)

// NodeServer is the HTTP face of one re-encryption node: the fragment
// endpoint, the election protocol, the event queue and the synchronous
// vote pipeline.
type NodeServer struct {
	node *service.NodeService
	log  zerolog.Logger
}

func NewNodeServer(node *service.NodeService, log zerolog.Logger) *NodeServer {
	return &NodeServer{node: node, log: log}
}

func (s *NodeServer) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/reencrypt", s.handleReencrypt).Methods(http.MethodPost)
	r.HandleFunc("/start_election", s.handleStartElection).Methods(http.MethodPost)
	r.HandleFunc("/cast_vote", s.handleCastVote).Methods(http.MethodPost)
	r.HandleFunc("/leader_failed", s.handleLeaderFailed).Methods(http.MethodPost)
	r.HandleFunc("/mark_processed", s.handleMarkProcessed).Methods(http.MethodPost)
	r.HandleFunc("/notify_event", s.handleNotifyEvent).Methods(http.MethodPost)
	r.HandleFunc("/submit_vote", s.handleSubmitVote).Methods(http.MethodPost)
	r.HandleFunc("/sync_state", s.handleSyncState).Methods(http.MethodPost)
	r.HandleFunc("/finish", s.handleFinish).Methods(http.MethodPost)
	r.HandleFunc("/get_state", s.handleGetState).Methods(http.MethodGet)
	return requestLogger(s.log, r)
}

// Serve blocks until ctx is cancelled.
func (s *NodeServer) Serve(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.Router(), s.log)
}

func (s *NodeServer) handleReencrypt(w http.ResponseWriter, r *http.Request) {
	var req models.ReencryptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	frag, err := s.node.Holder().Reencrypt(req.Capsule, req.CipherText)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusOK, models.ReencryptResponse{CFrag: frag})
}

func (s *NodeServer) handleStartElection(w http.ResponseWriter, r *http.Request) {
	var req models.StartElectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.node.HandleStartElection(req)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *NodeServer) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req models.CastVoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	respondJSON(w, http.StatusOK, s.node.HandleCastVote(req))
}

func (s *NodeServer) handleLeaderFailed(w http.ResponseWriter, r *http.Request) {
	var req models.LeaderFailedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.node.HandleLeaderFailed(req)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *NodeServer) handleMarkProcessed(w http.ResponseWriter, r *http.Request) {
	var req models.MarkProcessedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.node.MarkProcessed(req.TxHash, req.ProcessedBy, req.Success)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *NodeServer) handleNotifyEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.PendingEvent
	if !decodeJSON(w, r, &ev) {
		return
	}
	s.node.NotifyEvent(ev)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmitVote runs the whole aggregation pipeline synchronously:
// fragment fan-out, verification, authority submission.
func (s *NodeServer) handleSubmitVote(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitVoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.node.ProcessVote(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, encryption.ErrInsufficientFragments) ||
			errors.Is(err, encryption.ErrMalformedCiphertext) {
			status = http.StatusBadRequest
		}
		respondJSON(w, status, models.SubmitVoteResponse{Success: false, Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *NodeServer) handleSyncState(w http.ResponseWriter, r *http.Request) {
	var req models.SyncStateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.node.SyncState(req)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *NodeServer) handleFinish(w http.ResponseWriter, r *http.Request) {
	var req models.SettleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.node.Settle(r.Context(), req.WinningOption)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *NodeServer) handleGetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.node.State())
}
