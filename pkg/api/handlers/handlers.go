package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/api/middleware"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/registry"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories/models"
)

// Registry is the server side registry, which can also read back a room.
type Registry interface {
	registry.RoomRegistry
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %v", err)
	}
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrUnauthenticated):
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
	case errors.Is(err, registry.ErrNotFound):
		http.Error(w, "Room not found", http.StatusNotFound)
	default:
		var writeErr *registry.WriteError
		if errors.As(err, &writeErr) {
			http.Error(w, writeErr.Message, http.StatusInternalServerError)
			return
		}
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func HandleCreateRoom(rooms Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			log.Error("failed to get user from context")
			http.Error(w, "Failed to get user from context", http.StatusInternalServerError)
			return
		}

		room, err := rooms.CreateRoom(r.Context(), user.UID)
		if err != nil {
			log.Error("failed to create room for %s: %v", user.UID, err)
			writeRegistryError(w, err)
			return
		}

		log.Info("User %s created room %s (%s)", user.UID, room.ID, room.Code)
		writeJSON(w, http.StatusCreated, room)
	}
}

func HandleJoinRoom(rooms Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			log.Error("failed to get user from context")
			http.Error(w, "Failed to get user from context", http.StatusInternalServerError)
			return
		}

		req := &registry.JoinRoomRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		roomID, err := rooms.JoinRoomByCode(r.Context(), req.Code, user.UID)
		if err != nil {
			log.Debug("User %s failed to join room with code %s: %v", user.UID, req.Code, err)
			writeRegistryError(w, err)
			return
		}

		log.Info("User %s joined room %s", user.UID, roomID)
		writeJSON(w, http.StatusOK, &registry.JoinRoomResponse{RoomID: roomID})
	}
}

func HandleUpdateRoomStatus(rooms Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			log.Error("failed to get user from context")
			http.Error(w, "Failed to get user from context", http.StatusInternalServerError)
			return
		}

		roomID := mux.Vars(r)["roomID"]
		req := &registry.UpdateStatusRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if !req.Status.Valid() {
			http.Error(w, "Invalid status", http.StatusBadRequest)
			return
		}

		// the registry ignores the request unless the caller hosts the room
		if err := rooms.UpdateStatus(r.Context(), roomID, user.UID, req.Status); err != nil {
			log.Error("failed to update status of room %s: %v", roomID, err)
			writeRegistryError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleReleaseGuest(rooms Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			log.Error("failed to get user from context")
			http.Error(w, "Failed to get user from context", http.StatusInternalServerError)
			return
		}

		roomID := mux.Vars(r)["roomID"]
		// only the guest holding the slot can free it
		if err := rooms.ReleaseGuest(r.Context(), roomID, user.UID); err != nil {
			log.Error("failed to release guest of room %s: %v", roomID, err)
			writeRegistryError(w, err)
			return
		}

		log.Info("User %s left room %s", user.UID, roomID)
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleGetRoom(rooms Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := mux.Vars(r)["roomID"]
		room, err := rooms.GetRoom(r.Context(), roomID)
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

func HandleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	}
}
