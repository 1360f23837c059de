// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metadata

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/openconf/confd/internal/xmlutil"
)

// Credentials is what the Request Façade extracts from one inbound
// connection: the password presented on the wire, whether the peer
// already presented a certificate the TLS layer accepted, and the
// peer's address.
type Credentials struct {
	Password            string
	GlobalPasswordMatch bool // true if Password equals the server-wide password
	CertPresented       bool
	PeerAddress         string
}

// Authenticate enforces the authentication binding rule from spec.md
// §4.B: a secure client accepts only its own per-client password; any
// other client accepts either its own password or the global one. A
// non-floating client additionally requires the peer address to be
// one of its known addresses, unless it already presented a valid
// certificate.
func Authenticate(client *Client, creds Credentials) error {
	if client.Secure {
		if creds.Password == "" || creds.Password != client.Password {
			return authError(client.Name, "secure client requires its own password")
		}
	} else {
		ownPasswordMatches := client.Password != "" && creds.Password == client.Password
		if !ownPasswordMatches && !creds.GlobalPasswordMatch {
			return authError(client.Name, "password does not match client or global password")
		}
	}

	if !client.Floating && !creds.CertPresented {
		if !addressKnown(client.Addresses, creds.PeerAddress) {
			return authError(client.Name, fmt.Sprintf("peer address %q is not a known address for a non-floating client", creds.PeerAddress))
		}
	}

	return nil
}

func addressKnown(addresses []string, addr string) bool {
	for _, a := range addresses {
		if a == addr {
			return true
		}
	}
	return false
}

func authError(clientName, reason string) error {
	return &xmlutil.PipelineError{
		Kind:    xmlutil.KindMetadataAuthError,
		Message: fmt.Sprintf("authentication failed for client %q: %s", clientName, reason),
	}
}

// AuthLimiter bounds authentication attempts per peer address, so a
// client hammering the wrong password cannot turn the comparison in
// Authenticate into a brute-force oracle. One token bucket is created
// lazily per address and kept for the process lifetime.
type AuthLimiter struct {
	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAuthLimiter constructs an AuthLimiter allowing rps sustained
// attempts per second per peer address, with burst allowed instantly.
func NewAuthLimiter(rps float64, burst int) *AuthLimiter {
	return &AuthLimiter{rps: rps, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether the next authentication attempt from addr may
// proceed, consuming a token if so.
func (l *AuthLimiter) Allow(addr string) bool {
	if addr == "" {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[addr]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[addr] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// RateLimitedError builds the MetadataAuthError Authenticate's caller
// should return when AuthLimiter.Allow reports false.
func RateLimitedError(peerAddress string) error {
	return &xmlutil.PipelineError{
		Kind:    xmlutil.KindMetadataAuthError,
		Message: fmt.Sprintf("authentication attempts from %q are rate-limited", peerAddress),
	}
}
