// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package concierge

import (
	"context"
	"crypto/subtle"
	"math"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// getOrCreateRequestID returns the inbound X-Request-ID or mints one,
// echoing it on the response either way.
func getOrCreateRequestID(c *gin.Context) string {
	if id, ok := c.Get("request_id"); ok {
		if s, isString := id.(string); isString && s != "" {
			return s
		}
	}
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("request_id", id)
	c.Header("X-Request-ID", id)
	return id
}

// RequestID assigns every request an id early so all handlers and
// middleware log the same one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		getOrCreateRequestID(c)
		c.Next()
	}
}

// ===========================================================================
// API key auth
// ===========================================================================

// KeySource supplies the API key guarding the HTTP surface. An empty
// key with a nil error means auth is disabled.
//
// Thread Safety: implementations must be safe for concurrent use.
type KeySource interface {
	CurrentKey(ctx context.Context) (string, error)
}

// StaticKeySource serves a key fixed at startup.
type StaticKeySource string

func (s StaticKeySource) CurrentKey(context.Context) (string, error) {
	return string(s), nil
}

// EnvKeySource reads the key from an environment variable with
// TTL-based caching, so rotating the variable takes effect without a
// restart while steady-state requests skip the syscall.
//
// Thread Safety: safe for concurrent use.
type EnvKeySource struct {
	envVar string
	ttl    time.Duration

	mu        sync.RWMutex
	cached    string
	fetchedAt int64
}

// NewEnvKeySource creates a key source over one environment variable.
// ttl 0 re-reads on every request.
func NewEnvKeySource(envVar string, ttl time.Duration) *EnvKeySource {
	return &EnvKeySource{envVar: envVar, ttl: ttl}
}

func (e *EnvKeySource) CurrentKey(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	now := time.Now().UnixMilli()

	if e.ttl > 0 {
		e.mu.RLock()
		age := time.Duration(now-e.fetchedAt) * time.Millisecond
		if e.fetchedAt != 0 && age < e.ttl {
			key := e.cached
			e.mu.RUnlock()
			return key, nil
		}
		e.mu.RUnlock()
	}

	key := os.Getenv(e.envVar)
	if e.ttl > 0 {
		e.mu.Lock()
		e.cached = key
		e.fetchedAt = now
		e.mu.Unlock()
	}
	return key, nil
}

// RequireAPIKey authenticates requests with the X-API-Key header or an
// api_key query parameter. When the source yields no key, every
// request passes; that is the expected local-development mode.
func RequireAPIKey(source KeySource) gin.HandlerFunc {
	return func(c *gin.Context) {
		expected, err := source.CurrentKey(c.Request.Context())
		if err != nil || expected == "" {
			c.Next()
			return
		}

		supplied := c.GetHeader("X-API-Key")
		if supplied == "" {
			supplied = c.Query("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "invalid or missing API key",
				Code:  "UNAUTHORIZED",
			})
			return
		}
		c.Next()
	}
}

// ===========================================================================
// Rate limiting
// ===========================================================================

// maxTrackedClients bounds the limiter map; beyond it, clients idle
// for longer than staleClientAge are evicted.
const (
	maxTrackedClients = 1024
	staleClientAge    = 10 * time.Minute
)

// RateLimiter enforces a per-client request budget for one route
// class using token buckets.
//
// Description:
//
//	Each client ip gets a bucket refilled at perMinute tokens per
//	minute with burst capacity perMinute, so a fresh client can spend
//	its whole minute budget at once but no faster than the refill
//	afterwards. Allow reports how long a rejected caller should wait.
//
// Thread Safety: safe for concurrent use.
type RateLimiter struct {
	perMinute int

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter budgeting perMinute requests per
// client per minute. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		clients:   make(map[string]*clientBucket),
	}
}

// Allow reports whether the client may proceed, and if not, how long
// to wait before retrying.
func (r *RateLimiter) Allow(clientKey string) (bool, time.Duration) {
	if r.perMinute <= 0 {
		return true, 0
	}

	r.mu.Lock()
	bucket, ok := r.clients[clientKey]
	if !ok {
		if len(r.clients) >= maxTrackedClients {
			r.evictStaleLocked()
		}
		bucket = &clientBucket{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.perMinute)), r.perMinute),
		}
		r.clients[clientKey] = bucket
	}
	bucket.lastSeen = time.Now()
	r.mu.Unlock()

	rsv := bucket.limiter.Reserve()
	if !rsv.OK() {
		return false, time.Minute
	}
	if delay := rsv.Delay(); delay > 0 {
		rsv.Cancel()
		return false, delay
	}
	return true, 0
}

func (r *RateLimiter) evictStaleLocked() {
	cutoff := time.Now().Add(-staleClientAge)
	for key, bucket := range r.clients {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.clients, key)
		}
	}
}

// Middleware rejects over-budget requests with 429 and a Retry-After
// hint in whole seconds.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := r.Allow(c.ClientIP())
		if !allowed {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded, slow down",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
