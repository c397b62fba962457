package domain

import (
	"encoding/json"
	"fmt"
)

// Payload is the kind-specific auxiliary data attached to an event. Only
// kinds listed below carry one; serialization is fixed per kind.
type Payload interface {
	PayloadKind() Kind
}

// RatingPayload accompanies RecipeRated events.
type RatingPayload struct {
	Rating int `json:"rating"`
}

func (RatingPayload) PayloadKind() Kind { return RecipeRated }

// CommentPayload accompanies RecipeCommented events.
type CommentPayload struct {
	Comment string `json:"comment"`
}

func (CommentPayload) PayloadKind() Kind { return RecipeCommented }

// MarshalPayload serializes p for embedding into an event. Nil payloads
// yield no data.
func MarshalPayload(p Payload) json.RawMessage {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return data
}

// UnmarshalPayload decodes the payload carried by an event of the given
// kind. Kinds that carry no payload return nil regardless of data.
func UnmarshalPayload(kind Kind, data json.RawMessage) (Payload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch kind {
	case RecipeRated:
		var p RatingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode rating payload: %w", err)
		}
		return p, nil
	case RecipeCommented:
		var p CommentPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode comment payload: %w", err)
		}
		return p, nil
	default:
		return nil, nil
	}
}
