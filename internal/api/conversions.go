package api

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"repage/internal/models"
	"repage/internal/services"
)

func (s *Server) handleListConversions(w http.ResponseWriter, r *http.Request) {
	page, limit := queryInt(r, "page", 1), queryInt(r, "limit", 20)
	list, total, err := s.conversions.List(r.Context(), models.DefaultUserID, r.URL.Query().Get("status"), page, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]conversionResponse, len(list))
	for i := range list {
		items[i] = toConversionResponse(&list[i])
	}
	page, limit = services.NormalizePage(page, limit)
	writeData(w, http.StatusOK, newListResponse(items, total, page, limit), "")
}

func (s *Server) handleCreateConversion(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeErrorCode(w, http.StatusBadRequest, services.CodeValidation, "invalid multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	templateID, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("template_id")), 10, 64)
	if err != nil || templateID <= 0 {
		writeErrorCode(w, http.StatusUnprocessableEntity, services.CodeValidation, "template_id is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorCode(w, http.StatusUnprocessableEntity, services.CodeValidation, "file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conv, err := s.conversions.Create(r.Context(), models.DefaultUserID, templateID, header.Filename, content, strings.TrimSpace(r.FormValue("converter_type")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toConversionResponse(conv), "pdf uploaded")
}

func (s *Server) conversionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := pathID(r, "conversionID")
	if err != nil {
		s.writeError(w, r, err)
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversionID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	conv, err := s.conversions.Get(ctx, models.DefaultUserID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	images, err := s.conversions.Images(ctx, models.DefaultUserID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := conversionDetailResponse{
		conversionResponse: toConversionResponse(conv),
		GeneratedHTML:      nullString(conv.GeneratedHTML),
		Images:             make([]imageResponse, len(images)),
		ErrorMessage:       nullString(conv.ErrorMessage),
		ApprovedAt:         nullTime(conv.ApprovedAt),
	}
	for i, img := range images {
		resp.Images[i] = toImageResponse(img)
	}
	tmpl, err := s.templates.Get(ctx, models.DefaultUserID, conv.TemplateID)
	switch {
	case err == nil:
		resp.Template = &templateRef{ID: tmpl.ID, Name: tmpl.Name}
	case !errors.Is(err, services.ErrTemplateNotFound):
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, resp, "")
}

func (s *Server) handleUpdateConversion(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversionID(w, r)
	if !ok {
		return
	}
	var req struct {
		GeneratedHTML *string `json:"generated_html"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.GeneratedHTML == nil {
		writeErrorCode(w, http.StatusUnprocessableEntity, services.CodeValidation, "generated_html is required")
		return
	}
	conv, err := s.conversions.UpdateHTML(r.Context(), models.DefaultUserID, id, *req.GeneratedHTML)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"id":         conv.ID,
		"updated_at": conv.UpdatedAt,
	}, "html saved")
}

func (s *Server) handleDeleteConversion(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversionID(w, r)
	if !ok {
		return
	}
	if err := s.conversions.Delete(r.Context(), models.DefaultUserID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil, "conversion deleted")
}

// handleGenerate starts HTML generation in the background and answers 202
// straight away. Repeated triggers each start their own run.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversionID(w, r)
	if !ok {
		return
	}
	conv, err := s.conversions.Get(r.Context(), models.DefaultUserID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	task := s.tasks.Create(TaskKindGenerate, conv.ID)
	s.background(task, func(ctx context.Context, conn *sql.DB) error {
		conversions := s.conversions
		if conn != nil {
			conversions = s.conversions.WithDB(conn)
		}
		return conversions.Run(ctx, conv.ID, models.DefaultUserID)
	})

	writeData(w, http.StatusAccepted, map[string]any{
		"id":      conv.ID,
		"status":  models.ConversionConverting,
		"task_id": task.ID,
	}, "generation started")
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversionID(w, r)
	if !ok {
		return
	}
	conv, err := s.conversions.Approve(r.Context(), models.DefaultUserID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"id":          conv.ID,
		"status":      conv.Status,
		"approved_at": nullTime(conv.ApprovedAt),
	}, "conversion approved")
}

func writeHTML(w http.ResponseWriter, html string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, html)
}

func (s *Server) handlePreviewHTML(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversionID(w, r)
	if !ok {
		return
	}
	html, err := s.conversions.HTML(r.Context(), models.DefaultUserID, id, queryBool(r, "embed_images", true))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeHTML(w, html)
}

func (s *Server) handleDownloadHTML(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversionID(w, r)
	if !ok {
		return
	}
	html, err := s.conversions.HTML(r.Context(), models.DefaultUserID, id, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="output.html"`)
	writeHTML(w, html)
}

func (s *Server) handleImagesZip(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversionID(w, r)
	if !ok {
		return
	}
	data, err := s.conversions.ImagesZip(r.Context(), models.DefaultUserID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="images.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversionID(w, r)
	if !ok {
		return
	}
	filename := chi.URLParam(r, "filename")
	data, err := s.conversions.Image(r.Context(), models.DefaultUserID, id, filename)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", services.ServeMIME(filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
