package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/auth"
	"github.com/hackgods/dna-testing-scheduling/internal/kit"
)

func createKitHandler(kits *kit.Manager, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateKitRequest
		if err := decode(r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		var adminCase *uuid.UUID
		if req.AdminCaseID != "" {
			id := uuid.MustParse(req.AdminCaseID)
			adminCase = &id
		}
		k, err := kits.Create(r.Context(), principal(r), kit.Type(req.Type), adminCase)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toKitResponse(*k))
	}
}

func getKitHandler(kits *kit.Manager, logger zerolog.Logger) http.HandlerFunc {
	return kitAction(logger, func(r *http.Request, id uuid.UUID) (*kit.Kit, error) {
		if err := auth.Require(principal(r), "view kits", auth.Lab...); err != nil {
			return nil, err
		}
		return kits.Get(r.Context(), id)
	})
}

func assignKitToUserHandler(kits *kit.Manager, logger zerolog.Logger) http.HandlerFunc {
	return kitAction(logger, func(r *http.Request, id uuid.UUID) (*kit.Kit, error) {
		var req AssignKitToUserRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return kits.Assign(r.Context(), principal(r), id, uuid.MustParse(req.UserID))
	})
}

func markKitUsedHandler(kits *kit.Manager, logger zerolog.Logger) http.HandlerFunc {
	return kitAction(logger, func(r *http.Request, id uuid.UUID) (*kit.Kit, error) {
		return kits.MarkUsed(r.Context(), principal(r), id)
	})
}

func returnKitHandler(kits *kit.Manager, logger zerolog.Logger) http.HandlerFunc {
	return kitAction(logger, func(r *http.Request, id uuid.UUID) (*kit.Kit, error) {
		var req ReturnKitRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return kits.Return(r.Context(), principal(r), id, kit.Status(req.Status))
	})
}

func deleteKitHandler(kits *kit.Manager, logger zerolog.Logger) http.HandlerFunc {
	return kitAction(logger, func(r *http.Request, id uuid.UUID) (*kit.Kit, error) {
		return kits.Delete(r.Context(), principal(r), id)
	})
}

func kitAction(logger zerolog.Logger, fn func(r *http.Request, id uuid.UUID) (*kit.Kit, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		k, err := fn(r, id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toKitResponse(*k))
	}
}
