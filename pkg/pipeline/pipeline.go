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

// Package pipeline defines the boundary this connector is built against:
// the pipeline runtime that invokes Connect/PullData/Ack and interprets the
// values they return. The runtime itself is an external collaborator; only
// its interface lives here.
package pipeline

import (
	"context"
	"sync/atomic"
)

// StreamID identifies a logical stream multiplexed by a Source. This
// connector never multiplexes more than one, so every reply carries
// DefaultStreamID.
type StreamID uint64

// DefaultStreamID is the stream identifier used when a Source does not
// multiplex multiple logical streams.
const DefaultStreamID StreamID = 0

// Attempt is an opaque retry descriptor threaded through Connect by the
// pipeline runtime's connection supervisor. This connector does not inspect
// it; it exists purely to be passed through.
type Attempt interface {
	// Count reports how many connection attempts have been made for the
	// owning Source, including the one in progress.
	Count() int
}

// Notifier is the subset of the pipeline runtime's per-source context that
// this connector calls into.
type Notifier interface {
	// ConnectionLost tells the pipeline runtime that the underlying
	// transport died. Its error, if any, is swallowed by the caller;
	// notification is best-effort.
	ConnectionLost(ctx context.Context) error
}

// SourceContext is the per-source handle the pipeline runtime passes into
// every Source method.
type SourceContext interface {
	Notifier() Notifier
}

// CodecRequirement describes whether a Source's Data replies already carry
// a caller-supplied codec (Required) or have one applied by the runtime.
type CodecRequirement int

const (
	// CodecRequired means the Source delivers raw bytes; the caller
	// supplies whatever codec makes sense for them.
	CodecRequired CodecRequirement = iota
)

// ReplyKind distinguishes the variants of SourceReply.
type ReplyKind int

const (
	// ReplyData carries a delivered message.
	ReplyData ReplyKind = iota
	// ReplyStreamFail signals that the named stream can no longer produce
	// data until the Source is reconnected.
	ReplyStreamFail
)

// SourceReply is the value PullData returns to the pipeline runtime. It is
// a tagged union over ReplyKind; Data/Meta/Codec are only meaningful when
// Kind is ReplyData.
type SourceReply struct {
	Kind   ReplyKind
	Data   []byte
	Meta   map[string]any
	Stream StreamID
	Codec  CodecRequirement
}

// Data builds a ReplyData SourceReply.
func Data(data []byte, meta map[string]any, stream StreamID) SourceReply {
	return SourceReply{
		Kind:   ReplyData,
		Data:   data,
		Meta:   meta,
		Stream: stream,
		Codec:  CodecRequired,
	}
}

// StreamFail builds a ReplyStreamFail SourceReply for the given stream.
func StreamFail(stream StreamID) SourceReply {
	return SourceReply{Kind: ReplyStreamFail, Stream: stream}
}

// QueueSize is the process-wide channel capacity used between a
// ConsumerTask and its owning Source, for both the message channel and the
// ack channel. It defaults to 128 and is expected to be set once, early in
// process startup, by the pipeline runtime's configuration layer.
var queueSize atomic.Int64

func init() {
	queueSize.Store(defaultQueueSize)
}

const defaultQueueSize = 128

// SetQueueSize updates the process-wide channel capacity. It is safe to
// call concurrently, but since it only takes effect for Sources connected
// afterward, the runtime should call it once during startup.
func SetQueueSize(n int) {
	if n <= 0 {
		n = defaultQueueSize
	}
	queueSize.Store(int64(n))
}

// QueueSize returns the current process-wide channel capacity.
func QueueSize() int {
	return int(queueSize.Load())
}
