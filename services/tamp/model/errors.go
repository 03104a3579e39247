// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"errors"
	"fmt"
)

// Package-level error definitions.
var (
	ErrDuplicateParameter  = errors.New("duplicate parameter")
	ErrUnusedParameter     = errors.New("parameter does not occur in body")
	ErrUndeclaredParameter = errors.New("free variable is not a declared parameter")
	ErrInvalidEffect       = errors.New("invalid effect")
	ErrNotDefined          = errors.New("function cannot be evaluated")
)

// ConfigError reports a malformed operator. It is returned at construction
// time and indicates a modelling bug.
type ConfigError struct {
	Operator string
	Param    string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("%s: %v", e.Operator, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Operator, e.Err, e.Param)
}

func (e *ConfigError) Unwrap() error { return e.Err }
