// Copyright 2026 The EDU Sekai Authors
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

package http

import (
	"context"

	"github.com/edusekai/edusekai/internal/apiclient"
	"github.com/edusekai/edusekai/internal/authz"
	"github.com/edusekai/edusekai/internal/session"
)

type contextKey string

const (
	sessionKey contextKey = "session"
	gateKey    contextKey = "gate"
	clientKey  contextKey = "api_client"
)

// GetSession retrieves the loaded session from context.
func GetSession(ctx context.Context) *session.Session {
	if val, ok := ctx.Value(sessionKey).(*session.Session); ok {
		return val
	}
	return nil
}

// GetGate retrieves the permission gate from context. Requests that never
// went through SessionMiddleware get a pending gate.
func GetGate(ctx context.Context) authz.Gate {
	if val, ok := ctx.Value(gateKey).(authz.Gate); ok {
		return val
	}
	return authz.PendingGate()
}

// GetClient retrieves the per-request API client from context.
func GetClient(ctx context.Context) *apiclient.Client {
	if val, ok := ctx.Value(clientKey).(*apiclient.Client); ok {
		return val
	}
	return nil
}

func withSession(ctx context.Context, s *session.Session, g authz.Gate, c *apiclient.Client) context.Context {
	ctx = context.WithValue(ctx, sessionKey, s)
	ctx = context.WithValue(ctx, gateKey, g)
	return context.WithValue(ctx, clientKey, c)
}
