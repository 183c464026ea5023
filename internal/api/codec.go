package api

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var requestValidate = validator.New()

// ToStruct converts any JSON-serialisable value into a structpb.Struct.
// Values must encode to a JSON object.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert response: %w", err)
	}
	return out, nil
}

// FromStruct decodes a structpb.Struct into dst using its JSON tags. A nil
// struct leaves dst untouched.
func FromStruct(s *structpb.Struct, dst any) error {
	if s == nil {
		return nil
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// DecodeRequest decodes s into dst and runs struct validation on it.
func DecodeRequest(s *structpb.Struct, dst any) error {
	if err := FromStruct(s, dst); err != nil {
		return err
	}
	if err := requestValidate.Struct(dst); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
