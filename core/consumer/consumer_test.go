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

package consumer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	pubsubpb "google.golang.org/genproto/googleapis/pubsub/v1"
)

// fakeStream is an in-memory Stream: Send appends to sent, Recv drains a
// queue of canned responses (or returns a canned error once the queue is
// empty).
type fakeStream struct {
	mu        sync.Mutex
	sent      []*pubsubpb.StreamingPullRequest
	responses []*pubsubpb.StreamingPullResponse
	recvErr   error
	closed    bool
}

func (f *fakeStream) Send(req *pubsubpb.StreamingPullRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeStream) Recv() (*pubsubpb.StreamingPullResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) > 0 {
		r := f.responses[0]
		f.responses = f.responses[1:]
		return r, nil
	}
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	return nil, io.EOF
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) sentRequests() []*pubsubpb.StreamingPullRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*pubsubpb.StreamingPullRequest, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeClient struct {
	stream *fakeStream
	err    error
}

func (c *fakeClient) StreamingPull(context.Context) (Stream, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

func msgResponse(ackID, id string) *pubsubpb.StreamingPullResponse {
	return &pubsubpb.StreamingPullResponse{
		ReceivedMessages: []*pubsubpb.ReceivedMessage{
			{
				AckId:   ackID,
				Message: &pubsubpb.PubsubMessage{MessageId: id, Data: []byte(id)},
			},
		},
	}
}

func TestTask_HappyPath_OpeningRequestBindsSubscription(t *testing.T) {
	stream := &fakeStream{responses: []*pubsubpb.StreamingPullResponse{
		msgResponse("ack-1", "m1"),
	}}
	client := &fakeClient{stream: stream}

	out := make(chan Result, 4)
	ackIn := make(chan uint64, 4)
	task := New(client, "alias", "projects/p/subscriptions/s", 10*time.Second, out, ackIn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		task.Run(ctx)
		close(done)
	}()

	var result Result
	select {
	case result = <-out:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivered message")
	}
	if result.Message.GetMessageId() != "m1" {
		t.Fatalf("MessageId = %q; want m1", result.Message.GetMessageId())
	}
	if result.PullID != 1 {
		t.Fatalf("PullID = %d; want 1", result.PullID)
	}

	ackIn <- result.PullID

	var sent []*pubsubpb.StreamingPullRequest
	deadlineAt := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadlineAt) {
		sent = stream.sentRequests()
		if len(sent) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(sent) < 2 {
		t.Fatalf("expected at least 2 requests sent (open + ack), got %d", len(sent))
	}

	cancel()
	<-done
	if sent[0].GetSubscription() == "" {
		t.Fatalf("opening request must carry a non-empty subscription")
	}
	for _, req := range sent[1:] {
		if req.GetSubscription() != "" {
			t.Fatalf("subsequent request rebinds subscription: %q", req.GetSubscription())
		}
	}
	if sent[1].GetAckIds()[0] != "ack-1" {
		t.Fatalf("ack request AckIds = %v; want [ack-1]", sent[1].GetAckIds())
	}
}

func TestTask_UnknownAck_Ignored(t *testing.T) {
	stream := &fakeStream{}
	client := &fakeClient{stream: stream}

	out := make(chan Result, 4)
	ackIn := make(chan uint64, 4)
	task := New(client, "alias", "projects/p/subscriptions/s", 10*time.Second, out, ackIn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		task.Run(ctx)
		close(done)
	}()

	ackIn <- 999 // never issued by the server, should be a no-op
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	for _, req := range stream.sentRequests() {
		if len(req.GetAckIds()) > 0 {
			t.Fatalf("unknown pull_id should never produce an ack request, got %v", req.GetAckIds())
		}
	}
}

func TestTask_StreamDeath_ClosesOutbound(t *testing.T) {
	stream := &fakeStream{recvErr: errors.New("transport closed")}
	client := &fakeClient{stream: stream}

	out := make(chan Result)
	ackIn := make(chan uint64)
	task := New(client, "alias", "projects/p/subscriptions/s", 10*time.Second, out, ackIn)

	ctx := context.Background()
	go task.Run(ctx)

	select {
	case _, ok := <-out:
		if ok {
			t.Fatalf("expected outbound channel to close with no message")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound close after stream death")
	}

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Done() after stream death")
	}
}

func TestTask_Backpressure_BlocksUntilConsumed(t *testing.T) {
	stream := &fakeStream{responses: []*pubsubpb.StreamingPullResponse{
		msgResponse("ack-1", "m1"),
		msgResponse("ack-2", "m2"),
	}}
	client := &fakeClient{stream: stream}

	out := make(chan Result) // unbuffered: recvLoop must block until read
	ackIn := make(chan uint64, 4)
	task := New(client, "alias", "projects/p/subscriptions/s", 10*time.Second, out, ackIn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	// Once the first response is off the stream, recvLoop is blocked on the
	// unread delivery and must not pull the second response.
	pending := func() int {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return len(stream.responses)
	}
	waitUntil := time.Now().Add(2 * time.Second)
	for pending() == 2 && time.Now().Before(waitUntil) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := pending(); got != 1 {
		t.Fatalf("responses left on stream = %d; want 1 while first delivery is unread", got)
	}

	first := <-out
	if first.PullID != 1 {
		t.Fatalf("PullID = %d; want 1", first.PullID)
	}
	second := <-out
	if second.PullID != 2 {
		t.Fatalf("PullID = %d; want 2 (strictly increasing)", second.PullID)
	}
}

func TestTask_OpenStreamFails(t *testing.T) {
	client := &fakeClient{err: errors.New("dial failed")}

	out := make(chan Result, 1)
	ackIn := make(chan uint64, 1)
	task := New(client, "alias", "projects/p/subscriptions/s", 10*time.Second, out, ackIn)

	task.Run(context.Background())

	if _, ok := <-out; ok {
		t.Fatalf("expected outbound channel closed with no message when open fails")
	}
	select {
	case <-task.Done():
	default:
		t.Fatalf("Done() should already be closed after Run returns")
	}
}
