package scraper

import (
	"errors"
	"fmt"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrBlocked indicates the shop refused the request (HTTP 403/406).
type ErrBlocked struct {
	Status int
	Err    error
}

func (e ErrBlocked) Error() string {
	return fmt.Errorf("blocked (HTTP %d): %w", e.Status, e.Err).Error()
}

func (e ErrBlocked) Unwrap() error {
	return e.Err
}

// ErrStatus indicates a non-success response status.
type ErrStatus struct {
	Status int
	Err    error
}

func (e ErrStatus) Error() string {
	return fmt.Errorf("HTTP %d: %w", e.Status, e.Err).Error()
}

func (e ErrStatus) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var blocked ErrBlocked
	if errors.As(err, &blocked) {
		return "blocked"
	}
	var status ErrStatus
	if errors.As(err, &status) {
		return "status"
	}
	return "other"
}
