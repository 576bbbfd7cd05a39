package codec

import "fmt"

// Validator checks a decoded value.
type Validator[T any] interface {
	Validate(v T) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc[T any] func(v T) error

func (f ValidatorFunc[T]) Validate(v T) error { return f(v) }

// All runs validators in order and stops at the first failure.
func All[T any](validators ...Validator[T]) Validator[T] {
	return ValidatorFunc[T](func(v T) error {
		for _, val := range validators {
			if val == nil {
				continue
			}
			if err := val.Validate(v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Validated wraps inner so that persisted data is parsed, validated and only
// then trusted, and values that fail validation are never written.
func Validated[T any](inner Codec[T], v Validator[T]) Codec[T] {
	return validated[T]{inner: inner, v: v}
}

type validated[T any] struct {
	inner Codec[T]
	v     Validator[T]
}

func (c validated[T]) Encode(v T) (string, error) {
	if err := c.check(v); err != nil {
		return "", err
	}
	return c.inner.Encode(v)
}

func (c validated[T]) Decode(data string) (T, error) {
	v, err := c.inner.Decode(data)
	if err != nil {
		return v, err
	}
	if err := c.check(v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func (c validated[T]) check(v T) error {
	if c.v == nil {
		return nil
	}
	if err := c.v.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
