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

// Package consumer implements ConsumerTask: the long-lived goroutine pair
// driving one StreamingPull RPC for a Source. One goroutine writes the
// outbound half (the opening subscribe request, then ack requests pulled
// off the ack channel); the other reads the inbound half (message batches),
// assigning each message a locally unique, monotonically increasing pull
// id and recording pull id -> ack token in a deadline.Map so a later Ack
// can be turned back into the token the wire protocol needs.
package consumer

import (
	"context"
	"io"
	"time"

	pubsubpb "google.golang.org/genproto/googleapis/pubsub/v1"

	"github.com/pepper-iot/gpubsub-consumer-go/core/deadline"
	"github.com/pepper-iot/gpubsub-consumer-go/internal/clientid"
	"github.com/pepper-iot/gpubsub-consumer-go/pkg/log"
	"github.com/pepper-iot/gpubsub-consumer-go/pkg/pipeline"
)

// maxOutstandingMessagesDefault is used when pipeline.QueueSize is not a
// positive value.
const maxOutstandingMessagesDefault = 128

// ackDeadlineSecondsDefault is used when the configured ack deadline is
// under one second or overflows the int32 the wire type expects.
const ackDeadlineSecondsDefault = 10

// Stream is the narrow surface this package needs from a StreamingPull
// call, satisfied by the real pubsubpb.Subscriber_StreamingPullClient, and
// by a hand-rolled fake in tests.
type Stream interface {
	Send(*pubsubpb.StreamingPullRequest) error
	Recv() (*pubsubpb.StreamingPullResponse, error)
	CloseSend() error
}

// Client is the narrow surface this package needs from a
// pubsubpb.SubscriberClient.
type Client interface {
	StreamingPull(ctx context.Context) (Stream, error)
}

// Result is one item handed to a Source's message channel: either a
// delivered message correlated with its pull id, or an error. No path in
// this package's Run currently populates Err; a failure just closes the
// channel. The field is kept for the generic "any other error propagates"
// contract, leaving room for a future per-message failure mode without an
// API change.
type Result struct {
	PullID  uint64
	Message *pubsubpb.PubsubMessage
	Err     error
}

// Task drives a single StreamingPull RPC lifetime.
type Task struct {
	client         Client
	clientID       string
	subscriptionID string
	ackDeadline    time.Duration
	ackIDs         *deadline.Map

	outbound chan<- Result
	ackIn    <-chan uint64

	done chan struct{}
}

// New returns a ready-to-run Task. outbound and ackIn are the task-side
// ends of the channels a Source owns the opposite ends of.
func New(client Client, alias string, subscriptionID string, ackDeadline time.Duration, outbound chan<- Result, ackIn <-chan uint64) *Task {
	return &Task{
		client:         client,
		clientID:       clientid.New(alias),
		subscriptionID: subscriptionID,
		ackDeadline:    ackDeadline,
		ackIDs:         deadline.New(ackDeadline, time.Now()),
		outbound:       outbound,
		ackIn:          ackIn,
		done:           make(chan struct{}),
	}
}

// Done returns a channel that closes once Run has returned, whatever the
// reason (clean stream end, transport error, or outbound send failure).
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Run opens the StreamingPull RPC and drives it until the stream ends, ctx
// is cancelled, or an unrecoverable error occurs. It always closes
// t.outbound and t.done before returning, so a Source's pull_data sees the
// channel close and the cancel-and-await-prior-task sequence in connect()
// can rely on Done() unblocking.
func (t *Task) Run(ctx context.Context) {
	defer close(t.done)
	defer close(t.outbound)

	stream, err := t.client.StreamingPull(ctx)
	if err != nil {
		log.Errorf("consumer[%s]: failed to open streaming pull: %v", t.clientID, err)
		return
	}
	defer stream.CloseSend()

	sendErr := make(chan error, 1)
	go t.sendLoop(ctx, stream, sendErr)

	t.recvLoop(ctx, stream, sendErr)
}

// sendLoop emits the opening subscribe request, then multiplexes ack
// requests off ackIn onto the stream for as long as ctx is live. It is the
// sole writer of the stream's outbound half, mirroring a lazy generator:
// the opening request binds the subscription and advertises limits: later
// requests on the same stream may only acknowledge or modify deadlines, so
// every subsequent request leaves subscription empty to avoid rebinding.
func (t *Task) sendLoop(ctx context.Context, stream Stream, sendErr chan<- error) {
	open := &pubsubpb.StreamingPullRequest{
		Subscription:             t.subscriptionID,
		StreamAckDeadlineSeconds: saturateInt32Seconds(t.ackDeadline),
		ClientId:                 t.clientID,
		MaxOutstandingMessages:   saturateInt64(int64(pipeline.QueueSize()), maxOutstandingMessagesDefault),
	}
	if err := stream.Send(open); err != nil {
		sendErr <- err
		return
	}

	for {
		select {
		case <-ctx.Done():
			sendErr <- nil
			return

		case pullID, ok := <-t.ackIn:
			if !ok {
				sendErr <- nil
				return
			}

			token, found := t.ackIDs.Remove(pullID)
			if !found {
				log.Warnf("consumer[%s]: no ack token for pull_id %d", t.clientID, pullID)
				continue
			}

			req := &pubsubpb.StreamingPullRequest{
				Subscription: "",
				AckIds:       []string{token},
				ClientId:     t.clientID,
			}
			if err := stream.Send(req); err != nil {
				sendErr <- err
				return
			}
		}
	}
}

// recvLoop reads message batches off the stream until it ends or errors,
// assigning each delivered message a pull id and recording it in
// ackIDs before forwarding to outbound.
func (t *Task) recvLoop(ctx context.Context, stream Stream, sendErr <-chan error) {
	var pullID uint64

	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				log.Infof("consumer[%s]: stream closed by server", t.clientID)
			} else {
				log.Warnf("consumer[%s]: failed to read from stream, exiting: %v", t.clientID, err)
			}
			return
		}

		for _, rm := range resp.GetReceivedMessages() {
			msg := rm.GetMessage()
			if msg == nil {
				continue
			}

			pullID++
			t.ackIDs.Insert(pullID, rm.GetAckId(), time.Now())

			select {
			case t.outbound <- Result{PullID: pullID, Message: msg}:
			case <-ctx.Done():
				return
			case err := <-sendErr:
				if err != nil {
					log.Errorf("consumer[%s]: send loop failed, exiting: %v", t.clientID, err)
				}
				return
			}
		}
	}
}

// saturateInt32Seconds converts d to whole seconds, falling back to the
// default ack deadline if the result is zero or negative or would overflow
// int32.
func saturateInt32Seconds(d time.Duration) int32 {
	secs := int64(d / time.Second)
	if secs <= 0 || secs > int64(^int32(0)) {
		return ackDeadlineSecondsDefault
	}
	return int32(secs)
}

// saturateInt64 returns v if it's positive, otherwise def.
func saturateInt64(v int64, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
