// Package codec converts cell values to and from their persisted string form.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a value rejected by a validator.
var ErrInvalid = errors.New("codec: invalid value")

// Codec serializes values of type T.
type Codec[T any] interface {
	Encode(v T) (string, error)
	Decode(data string) (T, error)
}

// JSON is the default codec.
func JSON[T any]() Codec[T] { return jsonCodec[T]{} }

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(v T) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

func (jsonCodec[T]) Decode(data string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return v, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

// JSON5 accepts comments, trailing commas and unquoted keys when decoding, so
// hand-edited files still load. It always encodes indented JSON.
func JSON5[T any]() Codec[T] { return json5Codec[T]{} }

type json5Codec[T any] struct{}

func (json5Codec[T]) Encode(v T) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

// Decode parses JSON5 into a generic document and re-reads it with
// encoding/json, so json tags and custom unmarshalers such as time.Time
// apply exactly as they do for JSON.
func (json5Codec[T]) Decode(data string) (T, error) {
	var v T
	var doc any
	if err := json5.Unmarshal([]byte(data), &doc); err != nil {
		return v, fmt.Errorf("decode json5: %w", err)
	}
	if err := viaJSON(doc, &v); err != nil {
		return v, fmt.Errorf("decode json5: %w", err)
	}
	return v, nil
}

// YAML encodes values as YAML documents. Keys follow the json tags: values
// pass through their JSON form in both directions.
func YAML[T any]() Codec[T] { return yamlCodec[T]{} }

type yamlCodec[T any] struct{}

func (yamlCodec[T]) Encode(v T) (string, error) {
	var doc any
	if err := viaJSON(v, &doc); err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	return string(b), nil
}

func (yamlCodec[T]) Decode(data string) (T, error) {
	var v T
	var doc any
	if err := yaml.Unmarshal([]byte(data), &doc); err != nil {
		return v, fmt.Errorf("decode yaml: %w", err)
	}
	if err := viaJSON(doc, &v); err != nil {
		return v, fmt.Errorf("decode yaml: %w", err)
	}
	return v, nil
}

func viaJSON(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
