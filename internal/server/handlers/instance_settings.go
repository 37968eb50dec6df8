package handlers

import (
	"errors"
	"net/http"

	"github.com/relay-onprem/control-plane/internal/instancesettings"
)

// InstanceSettingsHandlers implements the admin CRUD over branding/instance
// key-value settings (logo URL, instance title, and similar).
type InstanceSettingsHandlers struct {
	settings *instancesettings.Store
}

func NewInstanceSettingsHandlers(store *instancesettings.Store) *InstanceSettingsHandlers {
	return &InstanceSettingsHandlers{settings: store}
}

// Get returns the value stored under the path's {key}.
func (h *InstanceSettingsHandlers) Get(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := h.settings.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, instancesettings.ErrSettingNotFound) {
			NotFound(w, r, "instance setting not found")
			return
		}
		InternalError(w, r)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

// List returns every stored instance setting.
func (h *InstanceSettingsHandlers) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.List(r.Context())
	if err != nil {
		InternalError(w, r)
		return
	}
	JSON(w, http.StatusOK, all)
}

type putInstanceSettingRequest struct {
	Value string `json:"value"`
}

// Put upserts the value stored under the path's {key}.
func (h *InstanceSettingsHandlers) Put(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req putInstanceSettingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if key == "" {
		BadRequest(w, r, "missing setting key")
		return
	}
	if err := h.settings.Set(r.Context(), key, req.Value); err != nil {
		InternalError(w, r)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}
