// Copyright 2025 The RagForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// ValidationError reports an invalid configuration section.
type ValidationError struct {
	Section string // Config section that failed, e.g. "graph", "schema"
	Message string // What is wrong
	Err     error  // Underlying error, if any
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid config [%s]: %s", e.Section, e.Message)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError.
func NewValidationError(section, message string, err error) *ValidationError {
	return &ValidationError{Section: section, Message: message, Err: err}
}
