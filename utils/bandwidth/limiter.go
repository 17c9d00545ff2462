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

// Package bandwidth provides a token-bucket egress/ingress rate limiter for
// peer connection payload transfers.
package bandwidth

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config defines Limiter configuration.
type Config struct {
	EgressBitsPerSec  uint64 `yaml:"egress_bits_per_sec"`
	IngressBitsPerSec uint64 `yaml:"ingress_bits_per_sec"`

	// TokenSize defines the granularity of a token in the bucket, in bits. It
	// avoids integer overflow that would occur from mapping each bit to a
	// token.
	TokenSize uint64 `yaml:"token_size"`

	Enable bool `yaml:"enable"`
}

func (c Config) applyDefaults() Config {
	if c.TokenSize == 0 {
		c.TokenSize = 1024 * 1024 // 1 Mbit.
	}
	return c
}

type options struct {
	logger *zap.SugaredLogger
}

// Option customizes Limiter construction.
type Option func(*options)

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

// Limiter rate-limits egress and ingress bandwidth independently via
// token-bucket limiters. Either side may be nil when disabled.
type Limiter struct {
	config  Config
	egress  *rate.Limiter
	ingress *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewLimiter creates a new Limiter. Returns an error if Enable is set but
// either rate is zero.
func NewLimiter(config Config, opts ...Option) (*Limiter, error) {
	config = config.applyDefaults()

	o := &options{logger: zap.NewNop().Sugar()}
	for _, apply := range opts {
		apply(o)
	}

	l := &Limiter{config: config, logger: o.logger}

	if !config.Enable {
		l.logger.Warn("Bandwidth limits disabled")
		return l, nil
	}
	if config.EgressBitsPerSec == 0 {
		return nil, errors.New("egress_bits_per_sec must be non-zero when enabled")
	}
	if config.IngressBitsPerSec == 0 {
		return nil, errors.New("ingress_bits_per_sec must be non-zero when enabled")
	}

	egressTPS := config.EgressBitsPerSec / config.TokenSize
	ingressTPS := config.IngressBitsPerSec / config.TokenSize
	l.egress = rate.NewLimiter(rate.Limit(egressTPS), tokenBurst(egressTPS))
	l.ingress = rate.NewLimiter(rate.Limit(ingressTPS), tokenBurst(ingressTPS))

	return l, nil
}

func tokenBurst(tps uint64) int {
	if tps == 0 {
		return 1
	}
	return int(tps)
}

// ReserveEgress blocks until bandwidth for nbytes of outbound payload is
// available. Returns an error if nbytes exceeds the bucket's burst capacity.
func (l *Limiter) ReserveEgress(nbytes int64) error {
	return l.reserve(l.egress, nbytes, "egress")
}

// ReserveIngress blocks until bandwidth for nbytes of inbound payload is
// available. Returns an error if nbytes exceeds the bucket's burst capacity.
func (l *Limiter) ReserveIngress(nbytes int64) error {
	return l.reserve(l.ingress, nbytes, "ingress")
}

func (l *Limiter) reserve(limiter *rate.Limiter, nbytes int64, direction string) error {
	if !l.config.Enable || limiter == nil {
		return nil
	}
	tokens := int(uint64(nbytes*8) / l.config.TokenSize)
	if tokens == 0 {
		tokens = 1
	}
	r := limiter.ReserveN(time.Now(), tokens)
	if !r.OK() {
		return fmt.Errorf("cannot reserve %d bytes of %s bandwidth, max burst is %d tokens",
			nbytes, direction, limiter.Burst())
	}
	time.Sleep(r.Delay())
	return nil
}

// Adjust scales both the egress and ingress limits down by denom, e.g. to
// divide available bandwidth evenly across denom concurrent peer
// connections. The scaled rate is floored to a minimum of 1 token/sec.
func (l *Limiter) Adjust(denom int) error {
	if denom == 0 {
		return errors.New("denom must be non-zero")
	}
	if !l.config.Enable {
		return nil
	}
	egressTPS := divFloor(l.config.EgressBitsPerSec/l.config.TokenSize, denom)
	ingressTPS := divFloor(l.config.IngressBitsPerSec/l.config.TokenSize, denom)
	l.egress.SetLimit(rate.Limit(egressTPS))
	l.ingress.SetLimit(rate.Limit(ingressTPS))
	return nil
}

func divFloor(v uint64, denom int) int64 {
	r := int64(v) / int64(denom)
	if r < 1 {
		return 1
	}
	return r
}

// EgressLimit returns the current egress rate, in tokens/sec.
func (l *Limiter) EgressLimit() int64 {
	if l.egress == nil {
		return 0
	}
	return int64(l.egress.Limit())
}

// IngressLimit returns the current ingress rate, in tokens/sec.
func (l *Limiter) IngressLimit() int64 {
	if l.ingress == nil {
		return 0
	}
	return int64(l.ingress.Limit())
}
