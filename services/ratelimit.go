// Copyright (c) 2025 The Firma-Sign Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package services

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// rate limiting policy for /api/ routes: a fixed window per remote address
const (
	apiRateLimit  = 100
	apiRateWindow = 15 * time.Minute
)

// This type counts requests per remote address within a fixed window. When
// the window elapses, all counts reset at once.
type rateLimiter struct {
	mutex       sync.Mutex
	limit       int
	window      time.Duration
	windowStart time.Time
	counts      map[string]int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:       limit,
		window:      window,
		windowStart: time.Now(),
		counts:      make(map[string]int),
	}
}

// records a request from the given address and reports whether it is allowed
func (limiter *rateLimiter) allow(address string) bool {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()

	now := time.Now()
	if now.Sub(limiter.windowStart) >= limiter.window {
		limiter.windowStart = now
		limiter.counts = make(map[string]int)
	}
	limiter.counts[address]++
	return limiter.counts[address] <= limiter.limit
}

// extracts the client address from a request, ignoring the port
func clientAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if comma := strings.Index(forwarded, ","); comma != -1 {
			return strings.TrimSpace(forwarded[:comma])
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// middleware applying the limiter to /api/ routes; other routes (root,
// /docs, /ws, /metrics) pass through uncounted
func (limiter *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") && !limiter.allow(clientAddress(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			body := ErrorResponse{
				Detail: ErrorDetail{
					Code:    "RATE_LIMITED",
					Message: "Too many requests; try again later",
				},
			}
			data, _ := json.Marshal(body)
			w.Write(data)
			return
		}
		next.ServeHTTP(w, r)
	})
}
