package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"votemesh/authority"
	"votemesh/encryption"
	"votemesh/models"
)

// AuthorityServer fronts the decrypting authority. It is the only
// process that ever sees vote plaintext.
type AuthorityServer struct {
	auth *authority.Authority
	log  zerolog.Logger
}

func NewAuthorityServer(auth *authority.Authority, log zerolog.Logger) *AuthorityServer {
	return &AuthorityServer{auth: auth, log: log}
}

func (s *AuthorityServer) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/initialize_state", s.handleInitializeState).Methods(http.MethodGet)
	r.HandleFunc("/submit", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/finish", s.handleFinish).Methods(http.MethodPost)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	return requestLogger(s.log, r)
}

// Serve blocks until ctx is cancelled.
func (s *AuthorityServer) Serve(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.Router(), s.log)
}

func (s *AuthorityServer) handleInitializeState(w http.ResponseWriter, r *http.Request) {
	resp, err := s.auth.InitializeState()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *AuthorityServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.auth.Submit(&req)
	if err != nil {
		respondJSON(w, submitStatus(err), models.SubmitVoteResponse{Success: false, Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// submitStatus separates caller mistakes from our own failures.
func submitStatus(err error) int {
	switch {
	case errors.Is(err, authority.ErrDoubleVote),
		errors.Is(err, authority.ErrBadVote),
		errors.Is(err, encryption.ErrMalformedCiphertext),
		errors.Is(err, encryption.ErrFragmentVerification),
		errors.Is(err, encryption.ErrInsufficientFragments):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *AuthorityServer) handleFinish(w http.ResponseWriter, r *http.Request) {
	var req models.FinishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.auth.Finish(&req)
	if err != nil {
		respondJSON(w, submitStatus(err), errorResponse{Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleInfo publishes the authority's verification material: the
// state public key voters encrypt to and the address that signs state
// transitions.
func (s *AuthorityServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"state_public_key": s.auth.StatePublic().String(),
		"signing_address":  s.auth.SigningAddress(),
	})
}
