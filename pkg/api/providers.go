package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prospectly/server/pkg/types"
)

// providerView is a descriptor plus whether the calling tenant has an active
// credential for it.
type providerView struct {
	*types.ProviderDescriptor
	Registered bool `json:"registered"`
	Configured bool `json:"configured"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	descs, err := s.svc.Descriptors.Descriptors(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]providerView, 0, len(descs))
	for _, d := range descs {
		v := providerView{
			ProviderDescriptor: d,
			Registered:         s.svc.Registry.Known(d.ID),
		}
		if active, err := s.svc.Credentials.GetActive(r.Context(), tenant, d.ID); err == nil && active != nil {
			v.Configured = true
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": views})
}

type credentialRequest struct {
	Label string `json:"label"`
	Key   string `json:"key"`
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Credentials.List(r.Context(), tenantFrom(r), chi.URLParam(r, "providerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"credentials": list})
}

func (s *Server) handleAddCredential(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	if !s.svc.Registry.Known(providerID) {
		writeError(w, types.Errorf(types.ErrNotFound, "unknown provider %q", providerID))
		return
	}

	var req credentialRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cred, err := s.svc.Credentials.Add(r.Context(), tenantFrom(r), providerID, req.Label, req.Key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cred)
}

func (s *Server) handleActivateCredential(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Credentials.Activate(r.Context(), tenantFrom(r),
		chi.URLParam(r, "providerID"), chi.URLParam(r, "credID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "activated"})
}

func (s *Server) handleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label *string `json:"label"`
		Key   *string `json:"key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.svc.Credentials.Update(r.Context(), tenantFrom(r), chi.URLParam(r, "credID"), req.Label, req.Key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Credentials.Delete(r.Context(), tenantFrom(r), chi.URLParam(r, "credID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
