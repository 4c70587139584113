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

package log

import (
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/grpclog"
)

// grpcLogger adapts grpc's internal LoggerV2 to logrus, so transport-level
// diagnostics (connection state changes, name resolution) land in the same
// process log stream as this package's own zerolog-backed output, without
// forcing grpc's internals onto zerolog's call shape.
type grpcLogger struct {
	*logrus.Entry
}

func (g *grpcLogger) V(level int) bool {
	// grpc's V(2) is its most chatty tier; only surface it at debug.
	return level < 2 || g.Logger.IsLevelEnabled(logrus.DebugLevel)
}

// UseGRPCLogger installs a logrus-backed grpclog.LoggerV2 as grpc's global
// logger. Call it once during process startup, before dialing.
func UseGRPCLogger() {
	entry := logrus.NewEntry(logrus.StandardLogger())
	grpclog.SetLoggerV2(&grpcLogger{Entry: entry})
}
