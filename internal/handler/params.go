package handler

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func uuidFromPath(r *http.Request, key string) (uuid.UUID, []FieldError) {
	id, err := uuid.Parse(mux.Vars(r)[key])
	if err != nil {
		return uuid.Nil, []FieldError{{Field: key, Message: "must be a valid UUID"}}
	}
	return id, nil
}

// optionalUUIDQuery returns nil when the parameter is absent.
func optionalUUIDQuery(r *http.Request, key string) (*uuid.UUID, []FieldError) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, []FieldError{{Field: key, Message: "must be a valid UUID"}}
	}
	return &id, nil
}

func limitQuery(r *http.Request, def, max int) (int, []FieldError) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		return 0, []FieldError{{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(max)}}
	}
	return n, nil
}
