// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cerrors defines the structured error type callers across the
// pipeline wrap lower-level failures in. The teacher never needed one: every
// error inside pkg/ingestion is a plain fmt.Errorf("...: %w", err) chain
// terminating at a caller that only logs it. This package keeps that same
// wrapping discipline but attaches a Kind so callers that DO need to branch
// (the outbox processor deciding whether to retry or poison-pill a row, the
// CLI deciding an exit code) can use errors.As instead of string matching.
package cerrors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories spec.md §7 names.
type Kind string

const (
	Config           Kind = "config"
	ParseFile        Kind = "parse_file"
	ParseMessage     Kind = "parse_message"
	EntityExtraction Kind = "entity_extraction"
	InvalidInput     Kind = "invalid_input"
	Storage          Kind = "storage"
	Embedding        Kind = "embedding"
	Other            Kind = "other"
)

// IndexError is the structured error every pipeline stage returns instead of
// a bare error, so a caller three layers up can still recover Kind and the
// file/entity the failure happened on.
type IndexError struct {
	Kind   Kind
	Path   string // file path or entity ID the error concerns, if any
	Err    error
	Fields map[string]any
}

func (e *IndexError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// New wraps err with a Kind, mirroring the teacher's fmt.Errorf(...: %w...)
// wrapping convention but keeping the category machine-readable.
func New(kind Kind, path string, err error) *IndexError {
	return &IndexError{Kind: kind, Path: path, Err: err}
}

// Newf is New with a formatted message instead of a wrapped error.
func Newf(kind Kind, path, format string, args ...any) *IndexError {
	return &IndexError{Kind: kind, Path: path, Err: fmt.Errorf(format, args...)}
}

// WithField attaches a diagnostic key/value pair, returned for chaining.
func (e *IndexError) WithField(key string, value any) *IndexError {
	if e.Fields == nil {
		e.Fields = make(map[string]any, 1)
	}
	e.Fields[key] = value
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *IndexError, defaulting to Other otherwise.
func KindOf(err error) Kind {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return Other
}

// IsRetryable reports whether an error category is worth retrying in the
// outbox processor. Config/InvalidInput/ParseMessage errors are permanent:
// retrying a malformed payload never succeeds.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case Config, InvalidInput, ParseMessage:
		return false
	default:
		return true
	}
}
