package api

import (
	"errors"
	"net/http"
)

var errMissingValidator = errors.New("query parameter validator is required")

type statResponse struct {
	Heights []int64 `json:"heights"`
}

// handleStatGet lists every height the given validator proposed, ascending.
func (s *Server) handleStatGet(w http.ResponseWriter, r *http.Request) {
	validator := r.URL.Query().Get("validator")
	if validator == "" {
		ERROR(w, http.StatusBadRequest, errMissingValidator)
		return
	}

	heights, err := s.db.HeightsByProposer(r.Context(), validator)
	if err != nil {
		s.log.Error("failed to query heights", "validator", validator, "error", err)
		ERROR(w, http.StatusInternalServerError, errors.New("failed to query heights"))
		return
	}
	if heights == nil {
		heights = []int64{}
	}

	JSON(w, http.StatusOK, statResponse{Heights: heights})
}
