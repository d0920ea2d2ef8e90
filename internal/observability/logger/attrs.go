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

package logger

import "log/slog"

// Common attribute keys for consistent logging across the gateway

// Request attributes
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func Method(method string) slog.Attr {
	return slog.String("method", method)
}

func Path(path string) slog.Attr {
	return slog.String("path", path)
}

func RemoteAddr(addr string) slog.Attr {
	return slog.String("remote_addr", addr)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

func Duration(ms int64) slog.Attr {
	return slog.Int64("duration_ms", ms)
}

// Routing attributes
func Host(host string) slog.Attr {
	return slog.String("host", host)
}

func TenantLabel(label string) slog.Attr {
	return slog.String("tenant", label)
}

func HostKind(kind string) slog.Attr {
	return slog.String("host_kind", kind)
}

func Location(url string) slog.Attr {
	return slog.String("location", url)
}

// Session attributes
func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

func ActiveRole(role string) slog.Attr {
	return slog.String("active_role", role)
}

func Permission(p string) slog.Attr {
	return slog.String("permission", p)
}

// FlightKey never carries a raw token.
func FlightKey(key string) slog.Attr {
	return slog.String("flight_key", key)
}

// Error attributes
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Component attributes
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Operation(op string) slog.Attr {
	return slog.String("operation", op)
}

// String creates a generic string attribute
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}
