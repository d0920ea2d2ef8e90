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

// Package hostrouter maps request hostnames to tenant contexts.
//
// Classification depends only on the Host header and the configured root
// domain. It performs no I/O and keeps no state between requests.
package hostrouter

import (
	"net"
	"strings"
)

// Kind is the outcome of classifying a hostname.
type Kind int

const (
	// KindUnrecognized is neither the root domain nor a subdomain of it.
	KindUnrecognized Kind = iota
	// KindRoot is the bare root (marketing) domain.
	KindRoot
	// KindTenant is {label}.{root}.
	KindTenant
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindTenant:
		return "tenant"
	default:
		return "unrecognized"
	}
}

// Classification is the tenant context derived from one Host header.
type Classification struct {
	Kind     Kind
	Label    string // set only for KindTenant
	Hostname string // host without port, lowercased
}

// IsRoot reports whether the host is the root domain.
func (c Classification) IsRoot() bool { return c.Kind == KindRoot }

// IsTenant reports whether the host carries a tenant label.
func (c Classification) IsTenant() bool { return c.Kind == KindTenant }

// Classify decides whether host targets the root domain, a tenant
// subdomain or neither. Aliases are additional hostnames treated as root.
//
// For hosts with several labels before the root (a.b.root.com) only the
// first label is used as the tenant identifier.
func Classify(host, root string, aliases ...string) Classification {
	hostname := Hostname(host)
	root = strings.TrimSuffix(strings.ToLower(root), ".")

	c := Classification{Kind: KindUnrecognized, Hostname: hostname}
	if hostname == "" || root == "" {
		return c
	}

	if hostname == root {
		c.Kind = KindRoot
		return c
	}
	for _, alias := range aliases {
		if hostname == strings.ToLower(alias) {
			c.Kind = KindRoot
			return c
		}
	}

	prefix, ok := strings.CutSuffix(hostname, "."+root)
	if !ok || prefix == "" {
		return c
	}

	label, _, _ := strings.Cut(prefix, ".")
	if label == "" {
		return c
	}

	c.Kind = KindTenant
	c.Label = label
	return c
}

// Hostname strips the port and trailing dot from a Host header value and
// lowercases it.
func Hostname(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	return strings.ToLower(host)
}
