package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/pilot-dev/memoryd/internal/errs"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps a classified error (internal/errs) to an HTTP status:
//   - ContractViolation -> 400
//   - NotFound          -> 404
//   - anything else     -> 500 (Transient/Corruption should have already
//     been retried or degraded by the caller; Fatal never reaches here)
func writeErr(w http.ResponseWriter, err error) {
	switch errs.KindOf(err) {
	case errs.KindContractViolation:
		writeError(w, http.StatusBadRequest, err.Error())
	case errs.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("httpapi: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close() //nolint:errcheck
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
