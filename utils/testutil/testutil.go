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

// Package testutil provides small helpers shared by this repo's test suites:
// deferred cleanup stacks, ephemeral HTTP servers, and poll-until-true
// assertions for eventually-consistent async behavior.
package testutil

import (
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"time"
)

// Cleanup accumulates teardown functions in LIFO order, so resources
// allocated later in a test are released before resources allocated
// earlier (e.g. a temp file before the dir it lives in).
type Cleanup struct {
	funcs []func()
}

// Add registers f to run when Run is called.
func (c *Cleanup) Add(f func()) {
	c.funcs = append(c.funcs, f)
}

// Run executes all registered cleanup functions in reverse order.
func (c *Cleanup) Run() {
	for i := len(c.funcs) - 1; i >= 0; i-- {
		c.funcs[i]()
	}
	c.funcs = nil
}

// Recover runs pending cleanup if a panic unwinds past it, then re-panics.
// Meant to be deferred immediately after declaring a Cleanup so that a
// fixture failing halfway through still releases what it already acquired.
func (c *Cleanup) Recover() {
	if r := recover(); r != nil {
		c.Run()
		panic(r)
	}
}

// TempFile writes data to a new temporary file and returns its path along
// with a cleanup function that removes it.
func TempFile(data []byte) (path string, cleanup func()) {
	f, err := ioutil.TempFile("", "testutil")
	if err != nil {
		panic(err)
	}
	if _, err := f.Write(data); err != nil {
		panic(err)
	}
	if err := f.Close(); err != nil {
		panic(err)
	}
	return f.Name(), func() { os.Remove(f.Name()) }
}

// TempDir creates a new temporary directory and returns its path along with
// a cleanup function that removes it and its contents.
func TempDir() (path string, cleanup func()) {
	dir, err := ioutil.TempDir("", "testutil")
	if err != nil {
		panic(err)
	}
	return dir, func() { os.RemoveAll(dir) }
}

// StartServer starts an HTTP server on a free port serving handler and
// returns its address along with a cleanup function that shuts it down.
func StartServer(handler http.Handler) (addr string, cleanup func()) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		panic(err)
	}
	go http.Serve(l, handler) // nolint: errcheck
	return l.Addr().String(), func() { l.Close() }
}

// PollUntilTrue polls f every 10ms until it returns true, or returns an
// error once timeout elapses. Useful for asserting on eventually-consistent
// state in concurrent code without sleeping a fixed duration.
func PollUntilTrue(timeout time.Duration, f func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if f() {
		return nil
	}
	return fmt.Errorf("timed out after %s waiting for condition", timeout)
}
