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

// Package source implements Source: the adapter a pipeline runtime holds
// directly. It turns connect/pull_data/ack calls into a live ConsumerTask
// and the channel pair bridging to it, reconnecting on demand and
// translating stream death into a StreamFail reply.
package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	pubsubpb "google.golang.org/genproto/googleapis/pubsub/v1"

	"github.com/pepper-iot/gpubsub-consumer-go/core/auth"
	"github.com/pepper-iot/gpubsub-consumer-go/core/consumer"
	"github.com/pepper-iot/gpubsub-consumer-go/internal/certs"
	"github.com/pepper-iot/gpubsub-consumer-go/internal/config"
	"github.com/pepper-iot/gpubsub-consumer-go/pkg/log"
	"github.com/pepper-iot/gpubsub-consumer-go/pkg/pipeline"
	"github.com/pepper-iot/gpubsub-consumer-go/pkg/pserrors"
)

// subscriberClient adapts a *pubsubpb.SubscriberClient to consumer.Client.
type subscriberClient struct {
	inner pubsubpb.SubscriberClient
}

func (s subscriberClient) StreamingPull(ctx context.Context) (consumer.Stream, error) {
	return s.inner.StreamingPull(ctx)
}

// Source is the pipeline-facing handle. The zero value is Unconnected;
// Connect must succeed before PullData or Ack are called.
type Source struct {
	cfg           config.Config
	tokenProvider auth.TokenProvider
	alias         string

	mu       sync.Mutex
	conn     *grpc.ClientConn
	client   pubsubpb.SubscriberClient // kept for future foreground metadata calls, unused by the core protocol
	receiver <-chan consumer.Result
	ackOut   chan<- uint64
	cancel   context.CancelFunc
	taskDone <-chan struct{}
}

// New returns an Unconnected Source. tokenProvider may be nil only if
// cfg.SkipAuthentication is true. alias identifies this Source in generated
// client ids (see internal/clientid).
func New(cfg config.Config, tokenProvider auth.TokenProvider, alias string) *Source {
	return &Source{cfg: cfg.WithDefaults(), tokenProvider: tokenProvider, alias: alias}
}

// Connect builds a transport channel to cfg.Endpoint, cancels and awaits any
// previously running ConsumerTask, and spawns a new one. attempt is threaded
// through unused, matching the pipeline runtime's Attempt contract.
func (s *Source) Connect(ctx context.Context, attempt pipeline.Attempt) error {
	dialCtx := ctx
	var dialCancel context.CancelFunc
	if s.cfg.ConnectTimeout > 0 {
		dialCtx, dialCancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer dialCancel()
	}

	conn, err := s.dial(dialCtx)
	if err != nil {
		return pserrors.WrapTransport(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.awaitPriorTaskLocked()
	if s.conn != nil {
		_ = s.conn.Close()
	}

	client := pubsubpb.NewSubscriberClient(conn)
	taskClient := pubsubpb.NewSubscriberClient(conn)

	queueSize := pipeline.QueueSize()
	msgCh := make(chan consumer.Result, queueSize)
	ackCh := make(chan uint64, queueSize)

	taskCtx, cancel := context.WithCancel(context.Background())
	task := consumer.New(subscriberClient{taskClient}, s.alias, s.cfg.SubscriptionID, s.cfg.AckDeadline, msgCh, ackCh)
	go task.Run(taskCtx)

	s.conn = conn
	s.client = client
	s.receiver = msgCh
	s.ackOut = ackCh
	s.cancel = cancel
	s.taskDone = task.Done()

	return nil
}

// awaitPriorTaskLocked cancels and waits for the currently running task, if
// any, so that at most one ConsumerTask is ever live per Source. Must be
// called with s.mu held.
func (s *Source) awaitPriorTaskLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.taskDone
	s.cancel = nil
}

// dial builds the gRPC channel described by cfg.Endpoint: plaintext for an
// http:// endpoint (test use only), TLS with the bundled root CA set and
// domain_name = url.host for https://.
func (s *Source) dial(ctx context.Context) (*grpc.ClientConn, error) {
	u, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("source: invalid endpoint %q: %w", s.cfg.Endpoint, err)
	}

	var dialOpts []grpc.DialOption
	switch u.Scheme {
	case "https":
		pool, err := certs.Pool()
		if err != nil {
			return nil, err
		}
		tlsConfig := &tls.Config{RootCAs: pool, ServerName: u.Hostname()}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	case "http":
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	default:
		return nil, fmt.Errorf("source: unsupported endpoint scheme %q", u.Scheme)
	}

	// Auth is driven by cfg.SkipAuthentication, independent of the
	// transport scheme: an https endpoint under test with
	// SkipAuthentication set still gets a credentials.PerRPCCredentials
	// installed (an empty bearer token). A tokenProvider's Adapter requires
	// transport security, so grpc refuses to dial a plaintext endpoint
	// with it installed.
	if s.cfg.SkipAuthentication || s.tokenProvider == nil {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(auth.NewSkipAuthentication()))
	} else {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(auth.New(s.tokenProvider)))
	}

	dialOpts = append(dialOpts, grpc.WithBlock())

	host := u.Host
	if host == "" {
		host = u.Path
	}
	return grpc.DialContext(ctx, host, dialOpts...)
}

// PullData blocks until a message is available, the task dies, or ctx is
// done. On success it sets *pullID and returns a Data reply; on stream
// death (or a result carrying pserrors.ErrTimeout) it notifies the
// pipeline's connection_lost handler and returns a StreamFail reply. Any
// other error carried by a result is returned as is.
func (s *Source) PullData(ctx context.Context, sctx pipeline.SourceContext, pullID *uint64) (pipeline.SourceReply, error) {
	s.mu.Lock()
	receiver := s.receiver
	s.mu.Unlock()

	if receiver == nil {
		return pipeline.SourceReply{}, pserrors.ErrClientNotAvailable
	}

	select {
	case <-ctx.Done():
		return pipeline.SourceReply{}, ctx.Err()

	case result, ok := <-receiver:
		if !ok {
			s.notifyConnectionLost(ctx, sctx)
			return pipeline.StreamFail(pipeline.DefaultStreamID), nil
		}
		if result.Err != nil {
			if errors.Is(result.Err, pserrors.ErrTimeout) {
				s.notifyConnectionLost(ctx, sctx)
				return pipeline.StreamFail(pipeline.DefaultStreamID), nil
			}
			return pipeline.SourceReply{}, result.Err
		}
		*pullID = result.PullID
		return pipeline.Data(result.Message.GetData(), metadata(result.Message), pipeline.DefaultStreamID), nil
	}
}

// notifyConnectionLost tells the pipeline runtime the transport is gone,
// swallowing any error it returns; notification is best-effort.
func (s *Source) notifyConnectionLost(ctx context.Context, sctx pipeline.SourceContext) {
	if sctx == nil {
		return
	}
	notifier := sctx.Notifier()
	if notifier == nil {
		return
	}
	if err := notifier.ConnectionLost(ctx); err != nil {
		log.Warnf("source: connection_lost notification failed: %v", err)
	}
}

// Ack enqueues pullID on the task's ack channel. It never touches
// DeadlineMap directly: the task performs that lookup under its own lock
// so the outbound request stream stays the sole writer of the RPC.
func (s *Source) Ack(ctx context.Context, streamID pipeline.StreamID, pullID uint64) error {
	s.mu.Lock()
	ackOut := s.ackOut
	s.mu.Unlock()

	if ackOut == nil {
		return pserrors.ErrClientNotAvailable
	}

	select {
	case ackOut <- pullID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// metadata builds the structured gpubsub_consumer metadata object described
// for pull_data replies.
func metadata(msg *pubsubpb.PubsubMessage) map[string]any {
	attrs := make(map[string]any, len(msg.GetAttributes()))
	for k, v := range msg.GetAttributes() {
		attrs[k] = v
	}

	return map[string]any{
		"gpubsub_consumer": map[string]any{
			"message_id":   msg.GetMessageId(),
			"ordering_key": msg.GetOrderingKey(),
			"publish_time": publishTimeNanos(msg),
			"attributes":   attrs,
		},
	}
}

// publishTimeNanos converts msg's publish_time to nanoseconds since epoch,
// clamped to 0 if it would overflow uint64 (a timestamp before the epoch,
// which the wire protocol never actually produces).
func publishTimeNanos(msg *pubsubpb.PubsubMessage) uint64 {
	ts := msg.GetPublishTime()
	if ts == nil || !ts.IsValid() {
		return 0
	}
	nanos := ts.AsTime().UnixNano()
	if nanos < 0 {
		return 0
	}
	return uint64(nanos)
}
