package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/charity-cli/internal/batch"
	"github.com/sells-group/charity-cli/internal/export"
	"github.com/sells-group/charity-cli/internal/ingest"
	"github.com/sells-group/charity-cli/internal/model"
	"github.com/sells-group/charity-cli/internal/ownership"
	"github.com/sells-group/charity-cli/internal/store"
)

func (s *Server) batchRoutes(r chi.Router) {
	r.Get("/", s.listBatches)
	r.Post("/", s.uploadBatch)
	r.Route("/{batchID}", func(r chi.Router) {
		r.Get("/", s.getBatch)
		r.Delete("/", s.deleteBatch)
		r.Get("/stats", s.batchStats)
		r.Get("/records", s.listRecords)
		r.Post("/process", s.processBatch)
		r.Post("/reprocess", s.reprocessBatch)
		r.Post("/trees", s.buildTrees)
		r.Get("/export", s.exportBatch)
	})
}

type uploadResponse struct {
	Batch        *model.Batch `json:"batch"`
	NameColumn   string       `json:"name_column"`
	NumberColumn string       `json:"number_column,omitempty"`
	Skipped      int          `json:"skipped_rows"`
}

func (s *Server) uploadBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	b, up, err := ingest.Ingest(r.Context(), s.deps.Store, hdr.Filename, buf.Bytes(), ingest.Options{
		BatchName:    r.FormValue("name"),
		NameColumn:   r.FormValue("name_column"),
		NumberColumn: r.FormValue("number_column"),
	})
	if err != nil {
		if ingest.IsInvalidUpload(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		Batch:        b,
		NameColumn:   up.NameColumn,
		NumberColumn: up.NumberColumn,
		Skipped:      up.Skipped,
	})
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	batches, err := s.deps.Store.ListBatches(r.Context(), limit, offset)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if batches == nil {
		batches = []model.Batch{}
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Store.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")
	if s.isRunning(id) {
		writeError(w, http.StatusConflict, "batch is processing")
		return
	}
	if err := s.deps.Store.DeleteBatch(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) batchStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.BatchStats(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")
	if _, err := s.deps.Store.GetBatch(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := store.RecordFilter{
		RootsOnly: queryBool(r, "roots_only"),
		Limit:     limit,
		Offset:    offset,
	}
	if v := r.URL.Query().Get("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			filter.Statuses = append(filter.Statuses, model.ResolutionStatus(strings.TrimSpace(st)))
		}
	}
	recs, err := s.deps.Store.ListRecords(r.Context(), id, filter)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) processBatch(w http.ResponseWriter, r *http.Request) {
	s.startBatch(w, r, s.deps.Batches.Process)
}

func (s *Server) reprocessBatch(w http.ResponseWriter, r *http.Request) {
	s.startBatch(w, r, s.deps.Batches.Reprocess)
}

type batchRun func(ctx context.Context, batchID string, opts batch.Options) (*model.Batch, error)

// startBatch validates the batch and starts run in the background,
// answering 202 immediately. A batch already running in this server answers
// 409.
func (s *Server) startBatch(w http.ResponseWriter, r *http.Request, run batchRun) {
	id := chi.URLParam(r, "batchID")
	if _, err := s.deps.Store.GetBatch(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	// A stored processing status left behind by a restart does not block a
	// new run; only runs owned by this server do.
	if s.isRunning(id) {
		writeError(w, http.StatusConflict, "batch is already processing")
		return
	}
	concurrency, err := queryInt(r, "concurrency", s.cfg.Concurrency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := batch.Options{UseAI: queryBool(r, "use_ai"), Concurrency: concurrency}

	started := s.startRun(id, func(ctx context.Context) {
		final, err := run(ctx, id, opts)
		if err != nil {
			zap.L().Error("api: batch run failed", zap.String("batch_id", id), zap.Error(err))
			return
		}
		zap.L().Info("api: batch run finished",
			zap.String("batch_id", id),
			zap.String("status", string(final.Status)),
			zap.Int("matched", final.MatchedRecords),
		)
	})
	if !started {
		writeError(w, http.StatusConflict, "batch is already processing")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"batch_id": id,
		"use_ai":   opts.UseAI,
	})
}

func (s *Server) isRunning(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[batchID]
}

func (s *Server) buildTrees(w http.ResponseWriter, r *http.Request) {
	depth, err := queryInt(r, "max_depth", s.cfg.DefaultDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Ownership.BuildTreesForBatch(r.Context(), chi.URLParam(r, "batchID"), ownership.ClampDepth(depth))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) exportBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "xlsx"
	}
	if format != "xlsx" && format != "csv" {
		writeError(w, http.StatusBadRequest, "format must be xlsx or csv")
		return
	}

	rep, err := export.Load(r.Context(), s.deps.Store, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	var buf bytes.Buffer
	switch format {
	case "csv":
		err = export.WriteCSV(&buf, rep.Records)
		w.Header().Set("Content-Type", "text/csv")
	default:
		err = export.WriteXLSX(&buf, rep, export.Options{
			SkipCandidates: !queryFlag(r, "candidates", true),
			SkipOwnership:  !queryFlag(r, "ownership", true),
			SkipFinancial:  !queryFlag(r, "financial", true),
			SkipEnriched:   !queryFlag(r, "enriched", true),
		})
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	}
	if err != nil {
		w.Header().Del("Content-Type")
		writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "batch_"+id+"."+format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// queryFlag is queryBool with a default for absent keys.
func queryFlag(r *http.Request, key string, def bool) bool {
	if !r.URL.Query().Has(key) {
		return def
	}
	return queryBool(r, key)
}
