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

// Package configutil loads struct-tag-validated configuration from YAML
// files, supporting an "extends" chain of base configs.
package configutil

import (
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"gopkg.in/validator.v2"
	yaml "gopkg.in/yaml.v2"
)

// ErrCycleRef is returned when a chain of "extends" references forms a cycle.
var ErrCycleRef = errors.New("cyclic reference in configuration extends detected")

// ValidationError wraps struct-tag validation failures, keyed by field name.
type ValidationError struct {
	errs validator.ErrorMap
}

// Error implements the error interface.
func (v ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s", map[string]validator.ErrorArray(v.errs))
}

// ErrForField returns the validation errors for field, if any.
func (v ValidationError) ErrForField(field string) validator.ErrorArray {
	return v.errs[field]
}

type extendsHeader struct {
	Extends string `yaml:"extends"`
}

// readExtends returns the (possibly relative) "extends" target named in
// filename, or "" if filename does not extend another file.
func readExtends(filename string) (string, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return "", err
	}
	var h extendsHeader
	if err := yaml.Unmarshal(data, &h); err != nil {
		return "", err
	}
	return h.Extends, nil
}

// resolveExtends walks the "extends" chain starting at fpath, resolving each
// reference (via fn) relative to the file that named it. The returned slice
// is ordered from the root ancestor to fpath itself.
func resolveExtends(fpath string, fn func(filename string) (string, error)) ([]string, error) {
	seen := map[string]bool{fpath: true}
	chain := []string{fpath}

	cur := fpath
	for {
		target, err := fn(cur)
		if err != nil {
			return nil, err
		}
		if target == "" {
			break
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(cur), target)
		}
		if seen[target] {
			return nil, ErrCycleRef
		}
		seen[target] = true
		chain = append([]string{target}, chain...)
		cur = target
	}
	return chain, nil
}

// loadFiles unmarshals filenames into v in order, so that later files
// override fields set by earlier ones, then validates the merged result
// exactly once.
func loadFiles(v interface{}, filenames []string) error {
	for _, f := range filenames {
		data, err := ioutil.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read config %q: %s", f, err)
		}
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("unmarshal config %q: %s", f, err)
		}
	}
	if err := validator.Validate(v); err != nil {
		verr, ok := err.(validator.ErrorMap)
		if !ok {
			return err
		}
		return ValidationError{verr}
	}
	return nil
}

// Load reads filename into v, following any "extends" chain and validating
// the merged result against v's "validate" struct tags.
func Load(filename string, v interface{}) error {
	filenames, err := resolveExtends(filename, readExtends)
	if err != nil {
		return err
	}
	return loadFiles(v, filenames)
}
