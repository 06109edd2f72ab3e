package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docpipe/internal/app"
	"docpipe/internal/queue"
	"docpipe/internal/transport/http/response"
)

type DocumentHandler struct {
	ingest *app.IngestService
	query  *app.QueryService
}

func NewDocumentHandler(ingest *app.IngestService, query *app.QueryService) *DocumentHandler {
	return &DocumentHandler{ingest: ingest, query: query}
}

// Ingest accepts a multipart form with "file" (PDF or DOCX), stores it and
// queues the document for processing.
func (h *DocumentHandler) Ingest(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "read upload failed")
		return
	}
	defer f.Close()

	result, err := h.ingest.Ingest(c.Request.Context(), app.Upload{
		Filename: file.Filename,
		Size:     file.Size,
		Content:  f,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUnsupportedFileType), errors.Is(err, app.ErrEmptyFile):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrFileTooLarge):
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ingest failed")
		}
		return
	}

	response.OK(c, result)
}

func (h *DocumentHandler) Query(c *gin.Context) {
	var req app.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.query.Query(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrEmptyQuery),
			errors.Is(err, app.ErrInvalidTopK),
			errors.Is(err, app.ErrUnsupportedFileType):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "query failed")
		}
		return
	}

	response.OK(c, result)
}

func (h *DocumentHandler) List(c *gin.Context) {
	list, err := h.query.ListDocuments(c.Query("status"))
	if err != nil {
		if errors.Is(err, app.ErrInvalidStatusFilter) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, list)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	detail, err := h.query.GetDocument(c.Param("id"))
	if err != nil {
		if errors.Is(err, app.ErrDocumentNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get document failed")
		return
	}
	response.OK(c, detail)
}

func (h *DocumentHandler) JobStatus(c *gin.Context) {
	job, err := h.query.JobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get job status failed")
		return
	}
	response.OK(c, job)
}

func (h *DocumentHandler) QueueStats(c *gin.Context) {
	stats, err := h.query.QueueStats(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get queue stats failed")
		return
	}
	response.OK(c, stats)
}
