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

// Package certs embeds the root CA bundle used when dialing an https
// pub/sub endpoint, rather than depending on the host's system trust store
// (which may be absent or stale in minimal container images).
package certs

import (
	"crypto/x509"
	_ "embed"
	"fmt"
)

//go:embed roots.pem
var rootsPEM []byte

// Pool returns an *x509.CertPool seeded with the bundled root CAs.
func Pool() (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(rootsPEM); !ok {
		return nil, fmt.Errorf("certs: no certificates parsed from bundled root CA PEM")
	}
	return pool, nil
}
