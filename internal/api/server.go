package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"repage/internal/converters"
	"repage/internal/db"
	"repage/internal/models"
	"repage/internal/services"
)

const maxMultipartMemory = 8 << 20 // 8 MB

type Server struct {
	router      chi.Router
	appName     string
	dbPath      string
	templates   *services.TemplateService
	settings    *services.SettingsService
	conversions *services.ConversionService
	learner     *services.LearningService
	tasks       *TaskManager
	log         zerolog.Logger
}

// Deps collects what the handlers need. DBPath, when set, is opened once
// per background task and shared by everything the task runs.
type Deps struct {
	AppName     string
	DBPath      string
	Templates   *services.TemplateService
	Settings    *services.SettingsService
	Conversions *services.ConversionService
	Learner     *services.LearningService
	Logger      zerolog.Logger
}

func NewServer(deps Deps) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		appName:     deps.AppName,
		dbPath:      deps.DBPath,
		templates:   deps.Templates,
		settings:    deps.Settings,
		conversions: deps.Conversions,
		learner:     deps.Learner,
		tasks:       NewTaskManager(),
		log:         deps.Logger.With().Str("component", "api").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Tasks exposes the background task registry.
func (s *Server) Tasks() *TaskManager {
	return s.tasks
}

func (s *Server) routes() {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/converters", s.handleListConverters)
		r.Get("/tasks/{taskID}", s.handleTaskStatus)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.handleGetSettings)
			r.Put("/", s.handleUpdateSettings)
			r.Put("/converter", s.handleUpdateConverter)
			r.Put("/api-keys", s.handleUpdateAPIKeys)
			r.Get("/models", s.handleGetModels)
			r.Put("/models", s.handleUpdateModels)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Route("/{templateID}", func(r chi.Router) {
				r.Get("/", s.handleGetTemplate)
				r.Put("/", s.handleUpdateTemplate)
				r.Delete("/", s.handleDeleteTemplate)
				r.Post("/learn", s.handleLearnTemplate)
			})
		})

		r.Route("/conversions", func(r chi.Router) {
			r.Get("/", s.handleListConversions)
			r.Post("/", s.handleCreateConversion)
			r.Route("/{conversionID}", func(r chi.Router) {
				r.Get("/", s.handleGetConversion)
				r.Patch("/", s.handleUpdateConversion)
				r.Delete("/", s.handleDeleteConversion)
				r.Post("/generate", s.handleGenerate)
				r.Post("/approve", s.handleApprove)
				r.Get("/html", s.handlePreviewHTML)
				r.Get("/download", s.handleDownloadHTML)
				r.Get("/images", s.handleImagesZip)
				r.Get("/images/{filename}", s.handleImage)
			})
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": s.appName,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListConverters(w http.ResponseWriter, r *http.Request) {
	st, err := s.settings.GetOrCreate(r.Context(), models.DefaultUserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, convertersResponse{
		Available: converters.Catalog,
		Current:   st.CurrentConverter,
	}, "")
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tasks.Get(chi.URLParam(r, "taskID"))
	if !ok {
		writeErrorCode(w, http.StatusNotFound, "TASK_NOT_FOUND", "task not found")
		return
	}
	writeData(w, http.StatusOK, task, "")
}

// background runs fn detached from the request, on its own database handle
// when one is configured, and records the outcome on task.
func (s *Server) background(task *Task, fn func(ctx context.Context, conn *sql.DB) error) {
	go func() {
		ctx := context.Background()
		s.tasks.MarkProcessing(task.ID)

		var conn *sql.DB
		if s.dbPath != "" {
			var err error
			if conn, err = db.Open(s.dbPath); err != nil {
				s.log.Error().Err(err).Str("task_id", task.ID).Msg("open task database")
				s.tasks.MarkFailed(task.ID, err.Error())
				return
			}
			defer conn.Close()
		}

		err := fn(ctx, conn)
		if err != nil {
			s.log.Error().Err(err).Str("task_id", task.ID).Str("kind", task.Kind).Int64("target_id", task.TargetID).Msg("background task failed")
		}
		s.tasks.Finish(task.ID, err)
	}()
}
