package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"olocus/internal/audit"
	"olocus/internal/friendship"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

type initiateFriendshipRequest struct {
	Level friendship.Level `json:"level"`
}

// handleInitiateFriendship starts the requester side of the handshake. The
// response includes the verification code the peers compare out of band.
func (h *Handler) handleInitiateFriendship(w http.ResponseWriter, r *http.Request) {
	var req initiateFriendshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode request body"))
		return
	}
	switch req.Level {
	case friendship.LevelClose, friendship.LevelAcquaintance, friendship.LevelColleague:
	default:
		writeError(w, dErrors.Newf(dErrors.CodeInvalidInput, "unknown friendship level %q", req.Level))
		return
	}

	handshake, err := h.deps.Friends.Initiate(r.Context(), req.Level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, handshake)
}

// handleAbortFriendship drops a pending handshake and wipes its ephemeral
// key.
func (h *Handler) handleAbortFriendship(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.deps.Friends.Abort(id)
	w.WriteHeader(http.StatusNoContent)
}

type acceptFriendshipRequest struct {
	Request            friendship.Request `json:"request"`
	RequesterPublicKey string             `json:"requester_public_key"`
	ConfirmedCode      string             `json:"confirmed_code"`
}

type acceptFriendshipResponse struct {
	Response   *friendship.Response   `json:"response"`
	Credential *friendship.Credential `json:"credential"`
}

// handleAcceptFriendship runs the acceptor side. The caller relays the code
// the requester read out; the handshake only proceeds when it matches.
func (h *Handler) handleAcceptFriendship(w http.ResponseWriter, r *http.Request) {
	var req acceptFriendshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode request body"))
		return
	}
	pub, err := parsePublicKey(req.RequesterPublicKey)
	if err != nil {
		writeError(w, err)
		return
	}

	confirm := func(code string) bool { return req.ConfirmedCode == code }
	resp, cred, err := h.deps.Friends.Accept(r.Context(), req.Request, pub, confirm)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acceptFriendshipResponse{Response: resp, Credential: cred})
}

type completeFriendshipRequest struct {
	Response          friendship.Response   `json:"response"`
	Credential        friendship.Credential `json:"credential"`
	AcceptorPublicKey string                `json:"acceptor_public_key"`
}

// handleCompleteFriendship finishes the requester side: re-derive the
// commitment, countersign the acceptor's credential, and store it.
func (h *Handler) handleCompleteFriendship(w http.ResponseWriter, r *http.Request) {
	var req completeFriendshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode request body"))
		return
	}
	pub, err := parsePublicKey(req.AcceptorPublicKey)
	if err != nil {
		writeError(w, err)
		return
	}

	cred, err := h.deps.Friends.Complete(r.Context(), req.Response, req.Credential, pub)
	if err != nil {
		writeError(w, err)
		return
	}

	h.emit(audit.Event{
		Actor:   GetDID(r.Context()),
		ChainID: GetChainID(r.Context()),
		Action:  audit.ActionFriendshipFormed,
		Subject: cred.ID.String(),
		Detail:  string(cred.Level),
	})
	writeJSON(w, http.StatusCreated, cred)
}

type adoptFriendshipRequest struct {
	Credential         friendship.Credential `json:"credential"`
	RequesterPublicKey string                `json:"requester_public_key"`
}

// handleAdoptFriendship stores the fully countersigned credential on the
// acceptor side once the requester's signature half checks out.
func (h *Handler) handleAdoptFriendship(w http.ResponseWriter, r *http.Request) {
	var req adoptFriendshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode request body"))
		return
	}
	pub, err := parsePublicKey(req.RequesterPublicKey)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.deps.Friends.Adopt(r.Context(), req.Credential, pub); err != nil {
		writeError(w, err)
		return
	}
	h.emit(audit.Event{
		Actor:   GetDID(r.Context()),
		ChainID: GetChainID(r.Context()),
		Action:  audit.ActionFriendshipFormed,
		Subject: req.Credential.ID.String(),
		Detail:  string(req.Credential.Level),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListFriendships(w http.ResponseWriter, r *http.Request) {
	creds, err := h.deps.FriendStore.CredentialsForDID(r.Context(), GetDID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"friendships": creds})
}
