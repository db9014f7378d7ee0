package repository

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

func uuidArray(ids []uuid.UUID) any {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return pq.Array(strs)
}

func parseUUIDs(strs []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(strs))
	for _, s := range strs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse uuid %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func capabilityArray(caps []domain.Capability) any {
	strs := make([]string, len(caps))
	for i, c := range caps {
		strs[i] = string(c)
	}
	return pq.Array(strs)
}

func toCapabilities(strs []string) []domain.Capability {
	caps := make([]domain.Capability, len(strs))
	for i, s := range strs {
		caps[i] = domain.Capability(s)
	}
	return caps
}

func marshalJSON[T any](v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return b, nil
}

func unmarshalMap[V any](raw []byte) (map[string]V, error) {
	m := make(map[string]V)
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if m == nil {
		m = make(map[string]V)
	}
	return m, nil
}
