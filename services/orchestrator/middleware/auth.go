// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides the HTTP middleware for the
// orchestrator: bearer-token authentication through the extensions
// AuthProvider, and per-client rate limiting.
//
// With the default NopAuthProvider every request authenticates as
// "local-user", so the open source deployment works with no identity
// infrastructure at all. Enterprise builds plug in a real provider.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SehatAI/SehatOSS/pkg/extensions"
)

// authInfoKey is the context key for the authenticated user. Typed
// key string avoids collisions with other gin context values.
const authInfoKey = "sehat_auth_info"

// SetAuthInfo stores the authenticated user info in the gin context.
// Called by AuthMiddleware after validation succeeds.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the authenticated user for this request, or nil
// when the request carries no auth info.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AuthMiddleware authenticates each request through the provider.
//
// # Description
//
// Extracts the bearer token from the Authorization header, validates
// it, and stores the resulting AuthInfo for handlers. A missing or
// malformed header yields an empty token; the NopAuthProvider accepts
// that and returns the local user.
//
// # Limitations
//
//   - Bearer tokens only; no other authentication schemes.
//   - Validation runs on every request, uncached.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". The
// scheme is case-insensitive per RFC 7235. Returns "" when the header
// is missing or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
