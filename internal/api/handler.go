package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/emicklei/go-restful/v3"
	"github.com/rs/zerolog"

	"arbitration-rag/internal/api/middleware"
	"arbitration-rag/internal/domain"
	"arbitration-rag/internal/retrieval"
)

const Version = "1.0.0"

// RAG is the retrieval service as seen by the HTTP layer.
type RAG interface {
	IsReady() bool
	Query(ctx context.Context, text string, topK int) (domain.QueryResult, error)
	GetStats() retrieval.Stats
	SearchByMetadata(filter domain.MetadataFilter, topK int) ([]domain.Chunk, error)
	GetCaseChunks(caseID string) ([]domain.Chunk, error)
	GetChunk(id string) (domain.Chunk, error)
	SummarizeCase(caseID string) (retrieval.CaseSummary, error)
}

type Handler struct {
	rag    RAG
	logger *zerolog.Logger
}

func NewHandler(rag RAG, logger *zerolog.Logger) *Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Handler{rag: rag, logger: logger}
}

// POST /api/v1/query
func (h *Handler) Query(req *restful.Request, resp *restful.Response) {
	var body QueryRequest
	if err := req.ReadEntity(&body); err != nil {
		h.logger.Error().Err(err).Msg("Failed to parse request body")
		middleware.HandleError(resp, err, http.StatusBadRequest)
		return
	}
	body.Query = strings.TrimSpace(body.Query)
	if err := body.Validate(); err != nil {
		middleware.HandleError(resp, err, http.StatusBadRequest)
		return
	}

	result, err := h.rag.Query(req.Request.Context(), body.Query, body.TopK)
	if err != nil {
		h.writeServiceError(resp, err)
		return
	}
	_ = resp.WriteHeaderAndEntity(http.StatusOK, toQueryResponse(result))
}

// GET /api/v1/stats
func (h *Handler) Stats(req *restful.Request, resp *restful.Response) {
	_ = resp.WriteHeaderAndEntity(http.StatusOK, h.rag.GetStats())
}

// GET /api/v1/chunks?caseId=&documentType=&date=&topK=
func (h *Handler) SearchChunks(req *restful.Request, resp *restful.Response) {
	topK, err := intParam(req, "topK")
	if err != nil {
		middleware.HandleError(resp, err, http.StatusBadRequest)
		return
	}
	filter := domain.MetadataFilter{
		CaseID:       req.QueryParameter("caseId"),
		DocumentType: req.QueryParameter("documentType"),
		Date:         req.QueryParameter("date"),
	}
	chunks, err := h.rag.SearchByMetadata(filter, topK)
	if err != nil {
		h.writeServiceError(resp, err)
		return
	}
	_ = resp.WriteHeaderAndEntity(http.StatusOK, toChunksResponse(chunks))
}

// GET /api/v1/chunks/{chunkId}
func (h *Handler) GetChunk(req *restful.Request, resp *restful.Response) {
	ch, err := h.rag.GetChunk(req.PathParameter("chunkId"))
	if err != nil {
		h.writeServiceError(resp, err)
		return
	}
	_ = resp.WriteHeaderAndEntity(http.StatusOK, ch.WithoutEmbedding())
}

// GET /api/v1/cases/{caseId}/chunks
func (h *Handler) CaseChunks(req *restful.Request, resp *restful.Response) {
	chunks, err := h.rag.GetCaseChunks(req.PathParameter("caseId"))
	if err != nil {
		h.writeServiceError(resp, err)
		return
	}
	_ = resp.WriteHeaderAndEntity(http.StatusOK, toChunksResponse(chunks))
}

// GET /api/v1/cases/{caseId}/summary
func (h *Handler) CaseSummary(req *restful.Request, resp *restful.Response) {
	summary, err := h.rag.SummarizeCase(req.PathParameter("caseId"))
	if err != nil {
		h.writeServiceError(resp, err)
		return
	}
	_ = resp.WriteHeaderAndEntity(http.StatusOK, summary)
}

// Health handler GET /api/v1/health
func (h *Handler) Health(req *restful.Request, resp *restful.Response) {
	status := "initializing"
	ready := h.rag.IsReady()
	if ready {
		status = "ok"
	}
	_ = resp.WriteHeaderAndEntity(http.StatusOK, HealthResponse{Status: status, Version: Version, Ready: ready})
}

func (h *Handler) writeServiceError(resp *restful.Response, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	middleware.HandleError(resp, err, status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrChunkNotFound), errors.Is(err, domain.ErrCaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func intParam(req *restful.Request, name string) (int, error) {
	raw := req.QueryParameter(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v > maxTopK {
		return 0, middleware.ErrInvalidRange
	}
	return v, nil
}
