package httptransport

import (
	"encoding/json"
	"net/http"

	dErrors "olocus/pkg/domain-errors"
)

// writeError centralizes domain error translation to HTTP responses.
// Handlers return domain errors; only this function knows about status
// codes, so the JSON error envelope stays consistent.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(code))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":  int(code),
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput,
		dErrors.CodeFriendshipBadSignature,
		dErrors.CodeFriendshipMismatch,
		dErrors.CodeAttestationBadSignature,
		dErrors.CodeAttestationBadProof,
		dErrors.CodeIntegrity:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeNotFound,
		dErrors.CodeFriendshipNotFound,
		dErrors.CodeAttestationNoRequest:
		return http.StatusNotFound
	case dErrors.CodeConflict,
		dErrors.CodeDoubleClaim,
		dErrors.CodeFriendshipDuplicate,
		dErrors.CodeAnchorDuplicateDay,
		dErrors.CodeNeedsSync:
		return http.StatusConflict
	case dErrors.CodeFriendshipExpired,
		dErrors.CodeAttestationExpired,
		dErrors.CodeClaimExpired:
		return http.StatusGone
	case dErrors.CodeClaimNotAnchored,
		dErrors.CodeAttestationTooFar,
		dErrors.CodeAttestationLowOverlap,
		dErrors.CodeAttestationBatchSize,
		dErrors.CodeAnchorLate,
		dErrors.CodeDeviceTampered:
		return http.StatusUnprocessableEntity
	case dErrors.CodeAnchorBacklogFull:
		return http.StatusTooManyRequests
	case dErrors.CodeTimestampAuthority,
		dErrors.CodeChainSubmission,
		dErrors.CodeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
