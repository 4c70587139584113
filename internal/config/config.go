// Copyright 2018 Comcast Cable Communications Management, LLC
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the connector's Config and its defaults. Loading
// Config from an actual configuration source (a file, a control plane, an
// environment) is an external collaborator's job; LoadTOML below is an
// optional convenience used by tests; no core/* package calls it.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pepper-iot/gpubsub-consumer-go/pkg/pserrors"
)

// DefaultAckDeadline is used when AckDeadline is left at its zero value.
const DefaultAckDeadline = 10 * time.Second

// Config holds everything the connector needs to connect to and authorize
// against a pub/sub subscription.
type Config struct {
	// ConnectTimeout bounds the initial gRPC dial.
	ConnectTimeout time.Duration
	// AckDeadline is the server-side window during which an ack token
	// stays valid; it also sizes DeadlineMap's rotation window. Defaults
	// to 10s.
	AckDeadline time.Duration
	// SubscriptionID is required.
	SubscriptionID string
	// Endpoint is an http or https URL.
	Endpoint string
	// SkipAuthentication bypasses the token provider; test use only.
	SkipAuthentication bool
}

// WithDefaults returns a copy of c with zero-valued fields that have
// sensible defaults filled in.
func (c Config) WithDefaults() Config {
	if c.AckDeadline <= 0 {
		c.AckDeadline = DefaultAckDeadline
	}
	return c
}

// Validate reports pserrors.ErrMissingConfiguration if a required field is
// unset.
func (c Config) Validate() error {
	if c.SubscriptionID == "" {
		return pserrors.Wrap(pserrors.ErrMissingConfiguration, "subscription_id is required")
	}
	if c.Endpoint == "" {
		return pserrors.Wrap(pserrors.ErrMissingConfiguration, "endpoint is required")
	}
	return nil
}

// fileConfig mirrors Config for TOML decoding, using string durations
// (BurntSushi/toml has no native time.Duration support) parsed by
// time.ParseDuration ("10s", "500ms", ...).
type fileConfig struct {
	ConnectTimeout     string `toml:"connect_timeout"`
	AckDeadline        string `toml:"ack_deadline"`
	SubscriptionID     string `toml:"subscription_id"`
	Endpoint           string `toml:"endpoint"`
	SkipAuthentication bool   `toml:"skip_authentication"`
}

// LoadTOML reads a Config from a TOML file at path. Durations are written
// as strings ("10s", "2m"); everything else is optional and filled in by
// WithDefaults.
func LoadTOML(path string) (Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return Config{}, pserrors.Wrap(err, "config: decoding "+path)
	}

	cfg := Config{
		SubscriptionID:     fc.SubscriptionID,
		Endpoint:           fc.Endpoint,
		SkipAuthentication: fc.SkipAuthentication,
	}

	if fc.ConnectTimeout != "" {
		d, err := time.ParseDuration(fc.ConnectTimeout)
		if err != nil {
			return Config{}, pserrors.Wrap(err, "config: connect_timeout")
		}
		cfg.ConnectTimeout = d
	}
	if fc.AckDeadline != "" {
		d, err := time.ParseDuration(fc.AckDeadline)
		if err != nil {
			return Config{}, pserrors.Wrap(err, "config: ack_deadline")
		}
		cfg.AckDeadline = d
	}

	return cfg.WithDefaults(), nil
}
