package api

import (
	"net/http"

	"repage/internal/converters"
	"repage/internal/models"
	"repage/internal/services"
)

type settingsUpdateRequest struct {
	DefaultConverter *string `json:"default_converter"`
	OpenAIAPIKey     *string `json:"openai_api_key"`
	AnthropicAPIKey  *string `json:"anthropic_api_key"`
	OpenAIModel      *string `json:"openai_model"`
	AnthropicModel   *string `json:"anthropic_model"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.settings.GetOrCreate(r.Context(), models.DefaultUserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toSettingsResponse(st), "")
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()

	st, err := s.settings.GetOrCreate(ctx, models.DefaultUserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DefaultConverter != nil && *req.DefaultConverter != "" {
		if st, err = s.settings.UpdateConverter(ctx, models.DefaultUserID, *req.DefaultConverter); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.OpenAIAPIKey != nil || req.AnthropicAPIKey != nil {
		if st, err = s.settings.UpdateAPIKeys(ctx, models.DefaultUserID, req.OpenAIAPIKey, req.AnthropicAPIKey); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.OpenAIModel != nil || req.AnthropicModel != nil {
		if st, err = s.settings.UpdateModels(ctx, models.DefaultUserID, req.OpenAIModel, req.AnthropicModel); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeData(w, http.StatusOK, toSettingsResponse(st), "settings updated")
}

func (s *Server) handleUpdateConverter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentConverter string `json:"current_converter"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.settings.UpdateConverter(r.Context(), models.DefaultUserID, req.CurrentConverter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, convertersResponse{
		Available: converters.Catalog,
		Current:   st.CurrentConverter,
	}, "converter updated")
}

func (s *Server) handleUpdateAPIKeys(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OpenAIAPIKey    *string `json:"openai_api_key"`
		AnthropicAPIKey *string `json:"anthropic_api_key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.settings.UpdateAPIKeys(r.Context(), models.DefaultUserID, req.OpenAIAPIKey, req.AnthropicAPIKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{
		"openai_api_key_set":    st.HasOpenAIKey(),
		"anthropic_api_key_set": st.HasAnthropicKey(),
	}, "api keys updated")
}

func (s *Server) handleGetModels(w http.ResponseWriter, r *http.Request) {
	st, err := s.settings.GetOrCreate(r.Context(), models.DefaultUserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, modelsResponse{
		OpenAIModels:    modelChoices(services.OpenAIModels),
		AnthropicModels: modelChoices(services.AnthropicModels),
		Current:         currentModels{OpenAIModel: st.OpenAIModel, AnthropicModel: st.AnthropicModel},
	}, "")
}

func (s *Server) handleUpdateModels(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OpenAIModel    *string `json:"openai_model"`
		AnthropicModel *string `json:"anthropic_model"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.settings.UpdateModels(r.Context(), models.DefaultUserID, req.OpenAIModel, req.AnthropicModel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, currentModels{OpenAIModel: st.OpenAIModel, AnthropicModel: st.AnthropicModel}, "models updated")
}
