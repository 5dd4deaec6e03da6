package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vigil-backend/internal/bus"
	"vigil-backend/internal/detect"
	"vigil-backend/internal/storage"
)

type Handler struct {
	Repo     *storage.Repository
	Bus      *bus.Publisher
	Registry *detect.Registry
	Timeout  time.Duration
}

type errorResponse struct {
	Ok      bool   `json:"ok"`
	Message string `json:"message"`
}

type detectorRequest struct {
	ProjectID        string          `json:"projectId"`
	Name             string          `json:"name"`
	Type             string          `json:"type"`
	SourceID         string          `json:"sourceId"`
	ConditionGroupID *string         `json:"conditionGroupId"`
	Config           json.RawMessage `json:"config"`
	Enabled          *bool           `json:"enabled"`
}

type conditionRequest struct {
	Comparator     string  `json:"comparator"`
	Threshold      float64 `json:"threshold"`
	ResultPriority int     `json:"resultPriority"`
}

type conditionGroupRequest struct {
	OrganizationID string             `json:"organizationId"`
	Conditions     []conditionRequest `json:"conditions"`
}

type detectorTypeInfo struct {
	Slug            string       `json:"slug"`
	Description     string       `json:"description"`
	DefaultPriority string       `json:"defaultPriority"`
	CreationQuota   detect.Quota `json:"creationQuota"`
	HasHandler      bool         `json:"hasHandler"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/detector-types", h.handleDetectorTypes)
	r.Route("/detectors", func(r chi.Router) {
		r.Post("/", h.handleDetectorCreate)
		r.Get("/", h.handleDetectorList)
		r.Get("/{id}", h.handleDetectorGet)
		r.Put("/{id}", h.handleDetectorUpdate)
		r.Delete("/{id}", h.handleDetectorDelete)
		r.Post("/{id}/enable", h.handleDetectorEnable)
		r.Post("/{id}/disable", h.handleDetectorDisable)
	})
	r.Route("/condition-groups", func(r chi.Router) {
		r.Post("/", h.handleConditionGroupCreate)
		r.Get("/{id}", h.handleConditionGroupGet)
	})
}

func (h *Handler) handleDetectorTypes(w http.ResponseWriter, r *http.Request) {
	types := []detectorTypeInfo{}
	for _, gt := range h.Registry.All() {
		types = append(types, detectorTypeInfo{
			Slug:            gt.Slug,
			Description:     gt.Description,
			DefaultPriority: gt.DefaultPriority.String(),
			CreationQuota:   gt.CreationQuota,
			HasHandler:      gt.HandlerFactory != nil,
		})
	}
	writeJSON(w, http.StatusOK, types)
}

func (h *Handler) validateDetector(ctx context.Context, req detectorRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.ProjectID == "" {
		return fmt.Errorf("projectId is required")
	}
	groupType, ok := h.Registry.Lookup(req.Type)
	if !ok {
		return fmt.Errorf("unknown detector type %q", req.Type)
	}
	if groupType.Validator != nil {
		if err := groupType.Validator.ValidateConfig(req.Config); err != nil {
			return err
		}
	}
	if req.ConditionGroupID != nil {
		if _, err := uuid.Parse(*req.ConditionGroupID); err != nil {
			return fmt.Errorf("conditionGroupId must be a uuid")
		}
		if _, _, err := h.Repo.GetConditionGroup(ctx, *req.ConditionGroupID); err != nil {
			return fmt.Errorf("condition group not found")
		}
	}
	return nil
}

func (h *Handler) handleDetectorCreate(w http.ResponseWriter, r *http.Request) {
	var req detectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.validateDetector(ctx, req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rec := storage.DetectorRecord{
		ID:               uuid.NewString(),
		ProjectID:        req.ProjectID,
		Name:             req.Name,
		Type:             req.Type,
		SourceID:         req.SourceID,
		ConditionGroupID: req.ConditionGroupID,
		Config:           req.Config,
		Enabled:          enabled,
	}
	if err := h.Repo.CreateDetector(ctx, rec); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to persist detector"})
		return
	}
	_ = h.Bus.Publish("detector.created", map[string]any{"detector_id": rec.ID})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "detectorId": rec.ID})
}

func (h *Handler) handleDetectorList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	detectors, err := h.Repo.ListDetectors(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to list detectors"})
		return
	}
	writeJSON(w, http.StatusOK, detectors)
}

func (h *Handler) handleDetectorGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	rec, err := h.Repo.GetDetector(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "detector not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleDetectorUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req detectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	existing, err := h.Repo.GetDetector(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "detector not found"})
		return
	}
	// Type is immutable: persisted state rows are interpreted by the
	// registered handler and cannot survive a type change.
	req.Type = existing.Type
	req.ProjectID = existing.ProjectID
	if err := h.validateDetector(ctx, req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	existing.Name = req.Name
	existing.SourceID = req.SourceID
	existing.ConditionGroupID = req.ConditionGroupID
	existing.Config = req.Config
	if err := h.Repo.UpdateDetector(ctx, existing); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to update detector"})
		return
	}
	_ = h.Bus.Publish("detector.updated", map[string]any{"detector_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleDetectorDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if _, err := h.Repo.GetDetector(ctx, id); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "detector not found"})
		return
	}
	if err := h.Repo.DeleteDetector(ctx, id); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to delete detector"})
		return
	}
	_ = h.Bus.Publish("detector.deleted", map[string]any{"detector_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleDetectorEnable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true, "detector.enabled")
}

func (h *Handler) handleDetectorDisable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false, "detector.disabled")
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool, subject string) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if _, err := h.Repo.GetDetector(ctx, id); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "detector not found"})
		return
	}
	if err := h.Repo.SetDetectorEnabled(ctx, id, enabled); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to update detector"})
		return
	}
	_ = h.Bus.Publish(subject, map[string]any{"detector_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleConditionGroupCreate(w http.ResponseWriter, r *http.Request) {
	var req conditionGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	if len(req.Conditions) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "at least one condition is required"})
		return
	}
	for i, cond := range req.Conditions {
		if !detect.KnownComparator(cond.Comparator) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: fmt.Sprintf("conditions[%d]: unknown comparator %q", i, cond.Comparator)})
			return
		}
		if !detect.ValidResultPriority(detect.PriorityLevel(cond.ResultPriority)) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: fmt.Sprintf("conditions[%d]: invalid resultPriority %d", i, cond.ResultPriority)})
			return
		}
	}
	group := storage.ConditionGroupRecord{
		ID:             uuid.NewString(),
		OrganizationID: req.OrganizationID,
	}
	conditions := make([]storage.ConditionRecord, 0, len(req.Conditions))
	for i, cond := range req.Conditions {
		conditions = append(conditions, storage.ConditionRecord{
			ID:               uuid.NewString(),
			ConditionGroupID: group.ID,
			Comparator:       cond.Comparator,
			Threshold:        cond.Threshold,
			ResultPriority:   cond.ResultPriority,
			Position:         i,
		})
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Repo.CreateConditionGroup(ctx, group, conditions); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to persist condition group"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "conditionGroupId": group.ID})
}

func (h *Handler) handleConditionGroupGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	group, conditions, err := h.Repo.GetConditionGroup(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "condition group not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": group, "conditions": conditions})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}
