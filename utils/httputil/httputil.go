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

// Package httputil provides a functional-options wrapper around net/http,
// adding retry-on-5xx, accepted status code validation, and TLS convenience
// shared by every HTTP collaborator in this repo (notably the HTTP tracker
// client).
package httputil

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff"
)

// StatusError occurs when an HTTP request does not return the status code
// the caller expected.
type StatusError struct {
	Method       string
	URL          string
	Status       int
	Header       http.Header
	ResponseDump string
}

func (e StatusError) Error() string {
	return fmt.Sprintf(
		"%s request to %s got unexpected status %d: %s", e.Method, e.URL, e.Status, e.ResponseDump)
}

// NewStatusError creates a StatusError from a response.
func NewStatusError(resp *http.Response) error {
	method, u := "", ""
	if resp.Request != nil {
		method = resp.Request.Method
		u = resp.Request.URL.String()
	}
	var dump string
	if resp.Body != nil {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		dump = string(b)
	}
	return StatusError{
		Method:       method,
		URL:          u,
		Status:       resp.StatusCode,
		Header:       resp.Header,
		ResponseDump: dump,
	}
}

// NetworkError occurs when an HTTP request could not be sent due to a
// connection failure of some sort.
type NetworkError struct {
	err error
}

func (e NetworkError) Error() string {
	return fmt.Sprintf("network error: %s", e.err)
}

// IsNetworkError returns true if err is a NetworkError.
func IsNetworkError(err error) bool {
	_, ok := err.(NetworkError)
	return ok
}

// IsStatus returns true if err is a StatusError matching any of codes.
func IsStatus(err error, codes ...int) bool {
	statusErr, ok := err.(StatusError)
	if !ok {
		return false
	}
	for _, code := range codes {
		if statusErr.Status == code {
			return true
		}
	}
	return false
}

// IsForbidden returns true if the error has 403 status code.
func IsForbidden(err error) bool {
	return IsStatus(err, http.StatusForbidden)
}

// IsNotFound returns true if the error has 404 status code.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

type sendOptions struct {
	body          io.Reader
	header        http.Header
	timeout       time.Duration
	acceptedCodes map[int]bool
	retry         *retryOptions
	transport     http.RoundTripper
	tls           *TLSConfig
	query         url.Values
}

func defaultSendOptions() *sendOptions {
	return &sendOptions{
		header:        http.Header{},
		timeout:       60 * time.Second,
		acceptedCodes: map[int]bool{http.StatusOK: true},
	}
}

// SendOption customizes Send/Get/Post/PollAccepted.
type SendOption func(*sendOptions)

// SendBody specifies a body for the request.
func SendBody(body io.Reader) SendOption {
	return func(o *sendOptions) { o.body = body }
}

// SendHeaders specifies headers for the request.
func SendHeaders(headers map[string]string) SendOption {
	return func(o *sendOptions) {
		for k, v := range headers {
			o.header.Set(k, v)
		}
	}
}

// SendTimeout specifies a timeout for the request.
func SendTimeout(timeout time.Duration) SendOption {
	return func(o *sendOptions) { o.timeout = timeout }
}

// SendAcceptedCodes specifies what status codes are accepted, overriding the
// default of only accepting 200.
func SendAcceptedCodes(codes ...int) SendOption {
	return func(o *sendOptions) {
		o.acceptedCodes = make(map[int]bool)
		for _, c := range codes {
			o.acceptedCodes[c] = true
		}
	}
}

// SendTransport overrides the http.RoundTripper used to send the request.
func SendTransport(t http.RoundTripper) SendOption {
	return func(o *sendOptions) { o.transport = t }
}

// SendTLS configures the client with the given TLS config.
func SendTLS(tls *TLSConfig) SendOption {
	return func(o *sendOptions) { o.tls = tls }
}

// SendQuery attaches the given query string values to the request URL.
func SendQuery(q url.Values) SendOption {
	return func(o *sendOptions) { o.query = q }
}

type retryOptions struct {
	backoff backoff.BackOff
	codes   map[int]bool
}

// RetryOption customizes SendRetry.
type RetryOption func(*retryOptions)

// RetryBackoff specifies the backoff.BackOff strategy used between retries.
func RetryBackoff(b backoff.BackOff) RetryOption {
	return func(o *retryOptions) { o.backoff = b }
}

// RetryCodes specifies which non-5xx status codes should also trigger a
// retry. 5xx status codes and network errors always trigger a retry.
func RetryCodes(codes ...int) RetryOption {
	return func(o *retryOptions) {
		for _, c := range codes {
			o.codes[c] = true
		}
	}
}

// SendRetry enables retrying the request on network error or 5xx response,
// using the exponential-backoff-like strategy configured via opts.
func SendRetry(opts ...RetryOption) SendOption {
	r := &retryOptions{
		backoff: backoff.NewExponentialBackOff(),
		codes:   make(map[int]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return func(o *sendOptions) { o.retry = r }
}

func (r *retryOptions) shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp.StatusCode >= 500 {
		return true
	}
	return r.codes[resp.StatusCode]
}

func buildClient(o *sendOptions) (*http.Client, error) {
	client := &http.Client{Timeout: o.timeout}
	if o.transport != nil {
		client.Transport = o.transport
		return client, nil
	}
	if o.tls != nil {
		tlsConf, err := o.tls.BuildClient()
		if err != nil {
			return nil, fmt.Errorf("build tls client: %s", err)
		}
		if tlsConf != nil {
			client.Transport = &http.Transport{TLSClientConfig: tlsConf}
		}
	}
	return client, nil
}

// Send sends an HTTP request with the given method to rawurl, honoring opts.
// Returns a StatusError if the response status code is not accepted, and a
// NetworkError if the request could not be sent.
func Send(method, rawurl string, opts ...SendOption) (*http.Response, error) {
	o := defaultSendOptions()
	for _, opt := range opts {
		opt(o)
	}

	u := rawurl
	if o.query != nil {
		parsed, err := url.Parse(rawurl)
		if err != nil {
			return nil, fmt.Errorf("parse url: %s", err)
		}
		parsed.RawQuery = o.query.Encode()
		u = parsed.String()
	}

	client, err := buildClient(o)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	send := func() error {
		req, err := http.NewRequest(method, u, o.body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("new request: %s", err))
		}
		req.Header = o.header
		resp, err = client.Do(req)
		if err != nil {
			return NetworkError{err}
		}
		if !o.acceptedCodes[resp.StatusCode] {
			return NewStatusError(resp)
		}
		return nil
	}

	if o.retry == nil {
		if err := send(); err != nil {
			return nil, err
		}
		return resp, nil
	}

	var lastErr error
	op := func() error {
		err := send()
		if err == nil {
			return nil
		}
		lastErr = err
		if o.retry.shouldRetry(resp, statusOf(err)) {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, o.retry.backoff); err != nil {
		return nil, lastErr
	}
	return resp, nil
}

func statusOf(err error) error {
	if _, ok := err.(NetworkError); ok {
		return err
	}
	return nil
}

// Get sends a GET request.
func Get(rawurl string, opts ...SendOption) (*http.Response, error) {
	return Send(http.MethodGet, rawurl, opts...)
}

// Post sends a POST request.
func Post(rawurl string, opts ...SendOption) (*http.Response, error) {
	return Send(http.MethodPost, rawurl, opts...)
}

// PollAccepted polls rawurl with GET requests, using b as the interval
// between polls, until the response is no longer 202 Accepted.
func PollAccepted(rawurl string, b backoff.BackOff, opts ...SendOption) (*http.Response, error) {
	var resp *http.Response
	op := func() error {
		var err error
		resp, err = Get(rawurl, append(opts, SendAcceptedCodes(http.StatusOK, http.StatusAccepted))...)
		if err != nil {
			return backoff.Permanent(err)
		}
		if resp.StatusCode == http.StatusAccepted {
			return fmt.Errorf("still processing")
		}
		return nil
	}
	if err := backoff.Retry(op, b); err != nil {
		if resp != nil && resp.StatusCode == http.StatusAccepted {
			return nil, fmt.Errorf("polling timed out: %s", err)
		}
		return nil, err
	}
	return resp, nil
}
