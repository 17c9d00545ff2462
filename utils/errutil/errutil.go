// Copyright (c) 2016-2019 Uber Technologies, Inc.
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

// Package errutil provides error aggregation helpers.
package errutil

import "strings"

// MultiError joins multiple errors into a single error whose message is a
// comma-separated list of each non-nil error's message.
type MultiError []error

// Error implements the error interface.
func (e MultiError) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		if err == nil {
			continue
		}
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, ", ")
}

// Join returns a MultiError wrapping errs if any of errs is non-nil,
// else returns nil.
func Join(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return MultiError(errs)
		}
	}
	return nil
}
