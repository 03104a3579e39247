// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model holds the fact, function and operator primitives shared by
// every other tamp package.
//
// Objects are arbitrary comparable Go values. Strings beginning with "?"
// are parameters (free variables) and are replaced by Substitute. Every
// object that takes part in a head is interned once so heads and literals
// can be keyed by short strings instead of deep comparisons.
package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Object is a planning object: any comparable value.
type Object = any

// Mapping binds parameters to objects.
type Mapping map[string]Object

// Placeholder is implemented by stand-in objects that represent outputs a
// stream has not produced yet.
type Placeholder interface {
	PlaceholderKey() string
	String() string
}

// IsParameter reports whether o is a parameter ("?name").
func IsParameter(o Object) bool {
	s, ok := o.(string)
	return ok && strings.HasPrefix(s, "?")
}

// IsPlaceholder reports whether o stands in for an unevaluated stream output.
func IsPlaceholder(o Object) bool {
	_, ok := o.(Placeholder)
	return ok
}

// FormatObject renders an object for logs and deterministic orderings.
func FormatObject(o Object) string {
	switch v := o.(type) {
	case nil:
		return "nil"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// objectTable interns objects so that keys stay short and stable within a
// process.
type objectTable struct {
	mu  sync.Mutex
	ids map[Object]int
}

var objects = &objectTable{ids: make(map[Object]int)}

func (t *objectTable) id(o Object) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[o]; ok {
		return id
	}
	id := len(t.ids)
	t.ids[o] = id
	return id
}

// ObjectKey returns the interned key of an object. Objects must be
// comparable; numeric values are normalized so 1 and 1.0 share a key.
func ObjectKey(o Object) string {
	if f, ok := toFloat(o); ok {
		o = f
	}
	return strconv.Itoa(objects.id(o))
}

func toFloat(o Object) (float64, bool) {
	switch v := o.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// Number converts a numeric object to float64.
func Number(o Object) (float64, bool) {
	return toFloat(o)
}

// Inf is the "no bound" cost.
var Inf = math.Inf(1)
