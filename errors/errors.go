// Copyright 2026 The Vortex Authors
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

package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorCode int

const (
	// Unavailable is returned when the transport to a peer closed underneath a
	// request, or the peer could not be dialled. Unavailable errors are retryable.
	Unavailable ErrorCode = iota + 2000
	// Timeout is returned when a request's deadline elapsed before the peer replied.
	Timeout
	// Stopping is returned for operations issued after service shutdown began.
	Stopping
	// NoSuchHandler is returned to a peer that sent a verb with no registered handler.
	NoSuchHandler
	// Aborted is returned when a retry sleep was aborted by shutdown.
	Aborted

	InvalidConfiguration ErrorCode = iota + 3000

	InternalError ErrorCode = iota + 5000
)

// VortexError is an error with a code that survives the wire: the remote side
// reconstructs the same code from a failed response.
type VortexError struct {
	Code ErrorCode
	Msg  string
}

func (v VortexError) Error() string {
	return v.Msg
}

func New(errorCode ErrorCode, msg string) VortexError {
	return VortexError{Code: errorCode, Msg: msg}
}

func Newf(errorCode ErrorCode, msgFormat string, args ...interface{}) VortexError {
	return VortexError{Code: errorCode, Msg: fmt.Sprintf(msgFormat, args...)}
}

func NewInvalidConfigurationError(msg string) VortexError {
	return Newf(InvalidConfiguration, "invalid configuration: %s", msg)
}

func NewInternalError(errReference string) VortexError {
	return Newf(InternalError, "internal error - reference: %s please consult server logs for details", errReference)
}

func hasCode(err error, code ErrorCode) bool {
	var verr VortexError
	if errors.As(err, &verr) {
		return verr.Code == code
	}
	return false
}

// IsUnavailableError reports whether err represents a closed or unreachable
// transport - the only error kind the send pipeline recovers from locally.
func IsUnavailableError(err error) bool {
	return hasCode(err, Unavailable)
}

func IsTimeoutError(err error) bool {
	return hasCode(err, Timeout)
}

func IsStoppingError(err error) bool {
	return hasCode(err, Stopping)
}
