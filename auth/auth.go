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

// Package auth verifies the credentials presented by WebSocket clients:
// HS256 JSON web tokens issued by the front end, and fernet session tokens
// issued at login.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/golang-jwt/jwt/v5"
)

// the identity carried by a verified credential
type Claims struct {
	UserId    string
	SessionId string
}

// indicates a token that failed verification
type InvalidTokenError struct {
	Reason string
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid token: %s", e.Reason)
}

// VerifyJWT checks an HS256-signed token against the given secret and
// extracts its claims. Tokens signed with any other method are rejected
// outright.
func VerifyJWT(tokenString, secret string) (Claims, error) {
	token, err := jwt.Parse(tokenString,
		func(token *jwt.Token) (any, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return Claims{}, &InvalidTokenError{Reason: err.Error()}
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, &InvalidTokenError{Reason: "unexpected claims format"}
	}
	claims := Claims{}
	if sub, ok := mapClaims["sub"].(string); ok {
		claims.UserId = sub
	}
	if sid, ok := mapClaims["sid"].(string); ok {
		claims.SessionId = sid
	}
	if claims.UserId == "" {
		return Claims{}, &InvalidTokenError{Reason: "missing subject"}
	}
	return claims, nil
}

// This type validates opaque session tokens. The gateway consumes it; the
// default implementation below decrypts fernet tokens.
type SessionValidator interface {
	Validate(token string) (Claims, error)
}

// validates fernet tokens whose payload is "userId\tsessionId"
type FernetValidator struct {
	keys []*fernet.Key
	ttl  time.Duration
}

// creates a validator from a base64-encoded fernet key
func NewFernetValidator(encodedKey string, ttl time.Duration) (*FernetValidator, error) {
	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &FernetValidator{keys: []*fernet.Key{key}, ttl: ttl}, nil
}

func (v *FernetValidator) Validate(token string) (Claims, error) {
	payload := fernet.VerifyAndDecrypt([]byte(token), v.ttl, v.keys)
	if payload == nil {
		return Claims{}, &InvalidTokenError{Reason: "expired or tampered session token"}
	}
	userId, sessionId, found := strings.Cut(string(payload), "\t")
	if !found || userId == "" || sessionId == "" {
		return Claims{}, &InvalidTokenError{Reason: "malformed session payload"}
	}
	return Claims{UserId: userId, SessionId: sessionId}, nil
}

// IsInvalidToken reports whether an error came from token verification.
func IsInvalidToken(err error) bool {
	var invalid *InvalidTokenError
	return errors.As(err, &invalid)
}
