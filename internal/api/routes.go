package api

import (
	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/go-openapi/spec"
	"github.com/rs/zerolog"

	"arbitration-rag/internal/api/middleware"
	"arbitration-rag/internal/domain"
	"arbitration-rag/internal/retrieval"
)

func RegisterRoutes(container *restful.Container, handler *Handler) {
	ws := new(restful.WebService)

	ws.
		Path("/api/v1").
		Consumes(restful.MIME_JSON).
		Produces(restful.MIME_JSON)

	ws.
		Route(ws.GET("health").
			To(handler.Health).
			Doc("Health check").
			Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
			Writes(HealthResponse{}).
			Returns(200, "OK", HealthResponse{}))

	ws.
		Route(ws.POST("/query").
			To(handler.Query).
			Doc("Answer a question from the case corpus").
			Metadata(restfulspec.KeyOpenAPITags, []string{"query"}).
			Reads(QueryRequest{}).
			Writes(QueryResponse{}).
			Returns(200, "OK", QueryResponse{}).
			Returns(400, "Bad Request", middleware.ErrorResponse{}).
			Returns(503, "Corpus Not Indexed", middleware.ErrorResponse{}).
			Returns(500, "Internal Server Error", middleware.ErrorResponse{}))

	ws.
		Route(ws.GET("/stats").
			To(handler.Stats).
			Doc("Store and chunking statistics").
			Metadata(restfulspec.KeyOpenAPITags, []string{"corpus"}).
			Writes(retrieval.Stats{}).
			Returns(200, "OK", retrieval.Stats{}))

	ws.
		Route(ws.GET("/chunks").
			To(handler.SearchChunks).
			Doc("Filter chunks by metadata").
			Metadata(restfulspec.KeyOpenAPITags, []string{"corpus"}).
			Param(ws.QueryParameter("caseId", "Case identifier").DataType("string").Required(false)).
			Param(ws.QueryParameter("documentType", "Decision or Opinion").DataType("string").Required(false)).
			Param(ws.QueryParameter("date", "Section date").DataType("string").Required(false)).
			Param(ws.QueryParameter("topK", "Maximum chunks (default: 10)").DataType("integer").Required(false)).
			Writes(ChunksResponse{}).
			Returns(200, "OK", ChunksResponse{}).
			Returns(400, "Bad Request", middleware.ErrorResponse{}).
			Returns(503, "Corpus Not Indexed", middleware.ErrorResponse{}))

	ws.
		Route(ws.GET("/chunks/{chunkId}").
			To(handler.GetChunk).
			Doc("Get one chunk").
			Metadata(restfulspec.KeyOpenAPITags, []string{"corpus"}).
			Param(ws.PathParameter("chunkId", "Chunk identifier").DataType("string")).
			Writes(domain.Chunk{}).
			Returns(200, "OK", domain.Chunk{}).
			Returns(404, "Chunk Not Found", middleware.ErrorResponse{}))

	ws.
		Route(ws.GET("/cases/{caseId}/chunks").
			To(handler.CaseChunks).
			Doc("All chunks of a case").
			Metadata(restfulspec.KeyOpenAPITags, []string{"cases"}).
			Param(ws.PathParameter("caseId", "Case identifier").DataType("string")).
			Writes(ChunksResponse{}).
			Returns(200, "OK", ChunksResponse{}))

	ws.
		Route(ws.GET("/cases/{caseId}/summary").
			To(handler.CaseSummary).
			Doc("Extractive summary of a case").
			Metadata(restfulspec.KeyOpenAPITags, []string{"cases"}).
			Param(ws.PathParameter("caseId", "Case identifier").DataType("string")).
			Writes(retrieval.CaseSummary{}).
			Returns(200, "OK", retrieval.CaseSummary{}).
			Returns(404, "Case Not Found", middleware.ErrorResponse{}))

	container.Add(ws)
}

func enrichSwaggerObject(swo *spec.Swagger) {
	swo.Info = &spec.Info{
		InfoProps: spec.InfoProps{
			Title:       "Arbitration RAG API",
			Description: "Retrieval-augmented question answering over arbitration case documents",
			Version:     Version,
		},
	}
	swo.Tags = []spec.Tag{
		{TagProps: spec.TagProps{Name: "health", Description: "Health checks"}},
		{TagProps: spec.TagProps{Name: "query", Description: "Grounded question answering"}},
		{TagProps: spec.TagProps{Name: "corpus", Description: "Chunk inspection and statistics"}},
		{TagProps: spec.TagProps{Name: "cases", Description: "Per-case chunks and summaries"}},
	}
}

// NewContainer wires filters, routes and the OpenAPI document.
func NewContainer(handler *Handler, logger *zerolog.Logger) *restful.Container {
	container := restful.NewContainer()
	container.Filter(middleware.Logger(logger))
	container.Filter(middleware.RecoverPanic(logger))

	RegisterRoutes(container, handler)

	config := restfulspec.Config{
		WebServices:                   container.RegisteredWebServices(),
		APIPath:                       "/api/v1/openapi.json",
		PostBuildSwaggerObjectHandler: enrichSwaggerObject,
	}
	container.Add(restfulspec.NewOpenAPIService(config))
	return container
}
