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

// Package pserrors defines the error kinds for the pub/sub consumer core:
// the ones that bubble up to the pipeline runtime, and the ones that are
// tolerated silently at their origin.
package pserrors

import "github.com/pkg/errors"

// Sentinel errors for the kinds named in the connector's error handling
// design. Compare against these with errors.Is; call sites that need extra
// context wrap them with errors.Wrap, which preserves Is/As.
var (
	// ErrMissingConfiguration is reported at build time when no config is
	// supplied.
	ErrMissingConfiguration = errors.New("gpubsub: missing configuration")

	// ErrClientNotAvailable is returned by PullData/Ack when they're
	// invoked before a successful Connect.
	ErrClientNotAvailable = errors.New("gpubsub: client not available")

	// ErrTimeout is the distinguished inbound error that triggers a
	// connection-lost notification and a StreamFail reply rather than
	// propagation. Nothing in this module's current ConsumerTask produces
	// it directly; a closed message channel is treated as its equivalent.
	// It's kept as a public sentinel for forward compatibility with the
	// generic "any other error propagates" contract.
	ErrTimeout = errors.New("gpubsub: timeout")

	// ErrStreamDeath means the RPC stream ended or errored and the
	// ConsumerTask exited. The next PullData call observes this via the
	// message channel closing.
	ErrStreamDeath = errors.New("gpubsub: stream ended")
)

// Wrap attaches msg as context to err while preserving errors.Is/As against
// the sentinels above.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// WrapTransport marks err as a connect()-time transport failure.
func WrapTransport(err error) error {
	return errors.Wrap(err, "gpubsub: transport error")
}
