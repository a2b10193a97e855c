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

package config

import "fmt"

// a type with authentication configuration parameters
type authConfig struct {
	// Secret used to verify HS256-signed JWTs presented by WebSocket clients.
	JwtSecret string `json:"jwtSecret" yaml:"jwtSecret"`
	// Base64 fernet key used to validate session tokens (optional).
	SessionKey string `json:"sessionKey" yaml:"sessionKey"`
	// Lifetime of a session token in seconds (default: 24 hours).
	SessionTTL int `json:"sessionTTL" yaml:"sessionTTL"`
}

// This helper validates the given auth parameters, returning an error
// indicating success or failure. An empty JWT secret is fatal: a gateway
// that can't verify tokens would silently reject every client.
func validateAuthParameters(params authConfig) error {
	if params.JwtSecret == "" {
		return fmt.Errorf("No JWT secret was provided!")
	}
	return nil
}
