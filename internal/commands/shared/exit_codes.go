// Copyright 2025 Tom Barlow
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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	hosterrors "github.com/tombee/mcphost/pkg/errors"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitFailed      = 1
	ExitInvalid     = 2
	ExitUnavailable = 3
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewInvalidError reports invalid input such as a bad descriptor file.
func NewInvalidError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalid, Message: msg, Cause: cause}
}

// NewUnavailableError reports that the host could not be reached.
func NewUnavailableError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitUnavailable, Message: msg, Cause: cause}
}

// HandleExitError prints err and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(WriteError(os.Stderr, err))
}

// WriteError prints err and any user-visible suggestion to w and returns
// the exit code for it.
func WriteError(w io.Writer, err error) int {
	code := ExitFailed
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}

	fmt.Fprintln(w, "Error:", err.Error())

	for e := err; e != nil; e = errors.Unwrap(e) {
		if userErr, ok := e.(hosterrors.UserVisibleError); ok {
			if userErr.IsUserVisible() && userErr.Suggestion() != "" {
				fmt.Fprintf(w, "\nSuggestion: %s\n", userErr.Suggestion())
			}
			break
		}
	}
	return code
}
