// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "strings"

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// HeaderList is an ordered multimap of header fields. Order is preserved
// exactly as encoded or decoded; lookups are case-insensitive.
type HeaderList []Field

// Get returns the value of the first field named name, or "".
func (h HeaderList) Get(name string) string {
	for _, field := range h {
		if strings.EqualFold(field.Name, name) {
			return field.Value
		}
	}
	return ""
}

// Has reports whether any field is named name.
func (h HeaderList) Has(name string) bool {
	for _, field := range h {
		if strings.EqualFold(field.Name, name) {
			return true
		}
	}
	return false
}

// Del returns the list without any field named name.
func (h HeaderList) Del(name string) HeaderList {
	kept := h[:0:0]
	for _, field := range h {
		if !strings.EqualFold(field.Name, name) {
			kept = append(kept, field)
		}
	}
	return kept
}

// Set replaces the first field named name in place, removing any later
// duplicates, or appends a new field when none exists.
func (h HeaderList) Set(name, value string) HeaderList {
	result := h[:0:0]
	replaced := false
	for _, field := range h {
		if strings.EqualFold(field.Name, name) {
			if replaced {
				continue
			}
			field.Value = value
			replaced = true
		}
		result = append(result, field)
	}
	if !replaced {
		result = append(result, Field{Name: name, Value: value})
	}
	return result
}
