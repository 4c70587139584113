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

// Package auth implements AuthAdapter: a per-request bearer token provider
// installed as per-RPC credentials on the dialed channel, so every RPC on a
// pub/sub channel carries a fresh "authorization: Bearer <token>" header.
package auth

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PubSubScope is the OAuth2 scope requested for the pub/sub subscriber API.
const PubSubScope = "https://www.googleapis.com/auth/pubsub"

// TokenProvider returns the current bearer token on demand. Implementations
// are expected to cache/refresh internally; Token is called on every RPC.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// GoogleTokenProvider mints tokens from Application Default Credentials.
type GoogleTokenProvider struct {
	src oauth2.TokenSource
}

// NewGoogleTokenProvider resolves Application Default Credentials scoped to
// PubSubScope.
func NewGoogleTokenProvider(ctx context.Context) (*GoogleTokenProvider, error) {
	src, err := google.DefaultTokenSource(ctx, PubSubScope)
	if err != nil {
		return nil, err
	}
	return &GoogleTokenProvider{src: src}, nil
}

// Token implements TokenProvider.
func (g *GoogleTokenProvider) Token(_ context.Context) (string, error) {
	tok, err := g.src.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// staticTokenProvider always returns the same token; used in test mode
// (skip_authentication) to hand back an empty bearer token without
// contacting an identity service.
type staticTokenProvider struct{ token string }

func (s staticTokenProvider) Token(context.Context) (string, error) { return s.token, nil }

// Adapter implements grpc/credentials.PerRPCCredentials, attaching a bearer
// token minted by TokenProvider to every call. Unless skipAuthentication is
// set, RequireTransportSecurity reports true: the token must never be sent
// over a plaintext channel in production.
type Adapter struct {
	tokenProvider      TokenProvider
	skipAuthentication bool
}

// New builds an Adapter around tp.
func New(tp TokenProvider) *Adapter {
	return &Adapter{tokenProvider: tp}
}

// NewSkipAuthentication builds an Adapter for test mode: every call carries
// an empty bearer token and transport security is not required, so it can
// be used against a plaintext test server.
func NewSkipAuthentication() *Adapter {
	return &Adapter{tokenProvider: staticTokenProvider{}, skipAuthentication: true}
}

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (a *Adapter) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	token, err := a.tokenProvider.Token(ctx)
	if err != nil {
		return nil, status.Error(codes.Unavailable, "failed to retrieve authentication token")
	}
	return map[string]string{"authorization": "Bearer " + token}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials.
func (a *Adapter) RequireTransportSecurity() bool {
	return !a.skipAuthentication
}
