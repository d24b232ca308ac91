package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/charity-cli/internal/model"
	"github.com/sells-group/charity-cli/internal/ownership"
	"github.com/sells-group/charity-cli/internal/resolve"
)

func (s *Server) recordRoutes(r chi.Router) {
	r.Route("/{recordID}", func(r chi.Router) {
		r.Get("/", s.getRecord)
		r.Get("/candidates", s.listCandidates)
		r.Post("/resolve", s.resolveRecord)
		r.Post("/confirm", s.confirmRecord)
		r.Get("/tree", s.recordTree)
	})
}

type recordResponse struct {
	model.Record
	Candidates []model.CandidateMatch `json:"candidates"`
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Store.GetRecord(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	cands, err := s.deps.Store.ListCandidates(r.Context(), rec.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if cands == nil {
		cands = []model.CandidateMatch{}
	}
	writeJSON(w, http.StatusOK, recordResponse{Record: *rec, Candidates: cands})
}

func (s *Server) listCandidates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recordID")
	if _, err := s.deps.Store.GetRecord(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	cands, err := s.deps.Store.ListCandidates(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if cands == nil {
		cands = []model.CandidateMatch{}
	}
	writeJSON(w, http.StatusOK, cands)
}

// resolveRecord re-runs resolution for one record from scratch.
func (s *Server) resolveRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Resolver.Reresolve(r.Context(), chi.URLParam(r, "recordID"), resolve.Options{
		UseAI: queryBool(r, "use_ai"),
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type confirmRequest struct {
	CandidateID    string `json:"candidate_id"`
	RegistryNumber string `json:"registry_number"`
}

func (s *Server) confirmRecord(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.deps.Resolver.Confirm(r.Context(), chi.URLParam(r, "recordID"), req.CandidateID, req.RegistryNumber)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) recordTree(w http.ResponseWriter, r *http.Request) {
	depth, err := queryInt(r, "max_depth", s.cfg.DefaultDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dir, ok := ownership.ParseDirection(r.URL.Query().Get("direction"))
	if !ok {
		writeError(w, http.StatusBadRequest, "direction must be down, up or both")
		return
	}
	tree, err := s.deps.Ownership.BuildTree(r.Context(), chi.URLParam(r, "recordID"), ownership.ClampDepth(depth), dir)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}
