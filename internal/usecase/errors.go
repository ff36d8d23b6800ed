package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrEngine      = errors.New("engine error")
	ErrPersistence = errors.New("persistence error")
)

func wrapEngine(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrEngine, err)
}

func wrapPersistence(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
