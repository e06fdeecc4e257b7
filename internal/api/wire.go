package api

import (
	"encoding/base64"

	"github.com/pkg/errors"

	"bypasskv/internal/hooks"
	"bypasskv/internal/model"
)

// Byte strings travel as standard base64 in JSON bodies and as unpadded
// URL-safe base64 in paths.

const BatchIDHeader = "X-Batch-Id"

type WireMutation struct {
	Op      string            `json:"op"`
	Key     string            `json:"key"`
	Payload map[string]string `json:"payload,omitempty"`
}

type BatchRequest struct {
	Mutations []WireMutation `json:"mutations"`
}

type TableRequest struct {
	Family   string `json:"family"`
	Capacity int    `json:"capacity,omitempty"`
}

type TableResponse struct {
	Table    string `json:"table"`
	Family   string `json:"family"`
	RegionID string `json:"regionId"`
}

type RowResponse struct {
	Key     string            `json:"key"`
	Payload map[string]string `json:"payload"`
}

type PredicateRequest struct {
	BypassKeys []string `json:"bypassKeys"`
}

type CountersResponse = hooks.Snapshot

// ErrorResponse is the body of every non-2xx answer. Kind is "storage" or
// "capacity" for a failed write, in which case Index and Key name the
// operation that failed.
type ErrorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Index   int    `json:"index,omitempty"`
	Key     string `json:"key,omitempty"`
}

const (
	ErrorKindStorage  = "storage"
	ErrorKindCapacity = "capacity"
)

func EncodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode base64")
	}
	return b, nil
}

// EncodePathKey encodes a row key for use as a path segment.
func EncodePathKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

func DecodePathKey(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode path key")
	}
	return b, nil
}

func EncodePayload(p model.Payload) map[string]string {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]string, len(p))
	for col, v := range p {
		out[col] = EncodeBytes(v)
	}
	return out
}

func DecodePayload(w map[string]string) (model.Payload, error) {
	if len(w) == 0 {
		return nil, nil
	}
	out := make(model.Payload, len(w))
	for col, v := range w {
		b, err := DecodeBytes(v)
		if err != nil {
			return nil, errors.Wrapf(err, "column %s", col)
		}
		out[col] = b
	}
	return out, nil
}

func EncodeMutation(mut model.Mutation) WireMutation {
	return WireMutation{Op: mut.Op.String(), Key: EncodeBytes(mut.Key), Payload: EncodePayload(mut.Payload)}
}

func DecodeMutation(w WireMutation) (model.Mutation, error) {
	key, err := DecodeBytes(w.Key)
	if err != nil {
		return model.Mutation{}, errors.Wrap(err, "key")
	}
	switch w.Op {
	case model.PUT.String():
		payload, err := DecodePayload(w.Payload)
		if err != nil {
			return model.Mutation{}, err
		}
		return model.Mutation{Op: model.PUT, Key: key, Payload: payload}, nil
	case model.DELETE.String():
		return model.Mutation{Op: model.DELETE, Key: key}, nil
	default:
		return model.Mutation{}, errors.Errorf("invalid operation type %q", w.Op)
	}
}

func EncodeBatch(batch []model.Mutation) BatchRequest {
	req := BatchRequest{Mutations: make([]WireMutation, 0, len(batch))}
	for _, mut := range batch {
		req.Mutations = append(req.Mutations, EncodeMutation(mut))
	}
	return req
}

func DecodeBatch(req BatchRequest) ([]model.Mutation, error) {
	out := make([]model.Mutation, 0, len(req.Mutations))
	for i, w := range req.Mutations {
		mut, err := DecodeMutation(w)
		if err != nil {
			return nil, errors.Wrapf(err, "mutation %d", i)
		}
		out = append(out, mut)
	}
	return out, nil
}
