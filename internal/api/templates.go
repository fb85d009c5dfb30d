package api

import (
	"context"
	"database/sql"
	"net/http"

	"repage/internal/models"
	"repage/internal/services"
)

type templateRequest struct {
	Name *string `json:"name"`
	URL1 *string `json:"url1"`
	URL2 *string `json:"url2"`
	URL3 *string `json:"url3"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	page, limit := queryInt(r, "page", 1), queryInt(r, "limit", 20)
	list, total, err := s.templates.List(r.Context(), models.DefaultUserID, r.URL.Query().Get("status"), page, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]templateResponse, len(list))
	for i := range list {
		items[i] = toTemplateResponse(&list[i], false)
	}
	page, limit = services.NormalizePage(page, limit)
	writeData(w, http.StatusOK, newListResponse(items, total, page, limit), "")
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.templates.Create(r.Context(), models.DefaultUserID, services.TemplateInput{
		Name: deref(req.Name),
		URL1: deref(req.URL1),
		URL2: deref(req.URL2),
		URL3: deref(req.URL3),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toTemplateResponse(t, false), "template created")
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "templateID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.templates.Get(r.Context(), models.DefaultUserID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toTemplateResponse(t, true), "")
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "templateID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.templates.Update(r.Context(), models.DefaultUserID, id, services.TemplateUpdate{
		Name: req.Name,
		URL1: req.URL1,
		URL2: req.URL2,
		URL3: req.URL3,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toTemplateResponse(t, true), "template updated")
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "templateID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.templates.Delete(r.Context(), models.DefaultUserID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil, "template deleted")
}

// handleLearnTemplate starts a learning pass in the background and answers
// 202 straight away.
func (s *Server) handleLearnTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "templateID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.templates.Get(r.Context(), models.DefaultUserID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	task := s.tasks.Create(TaskKindLearn, t.ID)
	s.background(task, func(ctx context.Context, conn *sql.DB) error {
		templates, settings, learner := s.templates, s.settings, s.learner
		if conn != nil {
			templates = services.NewTemplateService(conn)
			settings = s.settings.WithDB(conn)
			learner = s.learner.WithTemplates(templates)
		}
		tmpl, err := templates.Get(ctx, models.DefaultUserID, id)
		if err != nil {
			return err
		}
		creds, _, err := settings.Credentials(ctx, models.DefaultUserID)
		if err != nil {
			if setErr := templates.SetError(ctx, id, err.Error()); setErr != nil {
				s.log.Error().Err(setErr).Int64("template_id", id).Msg("record learning error")
			}
			return err
		}
		_, err = learner.Learn(ctx, tmpl, creds)
		return err
	})

	writeData(w, http.StatusAccepted, map[string]any{
		"id":      t.ID,
		"status":  models.TemplateLearning,
		"task_id": task.ID,
	}, "learning started")
}
