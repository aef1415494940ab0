// Package auth enforces the caller-facing API key and checks that the
// upstream token is usable before any upstream call.
package auth

import (
	"log/slog"
	"strings"

	"discogs-gateway/internal/apierror"
	"discogs-gateway/internal/config"
	"discogs-gateway/internal/secret"
)

// Gate decides whether an inbound call may proceed.
type Gate struct {
	expected     string
	disableCheck bool
	token        string
	unresolved   secret.Predicate
	logger       *slog.Logger
}

// NewGate creates a Gate from the loaded configuration.
func NewGate(cfg *config.Config, unresolved secret.Predicate, logger *slog.Logger) *Gate {
	if unresolved == nil {
		unresolved = secret.Never
	}
	return &Gate{
		expected:     cfg.Auth.APIKey,
		disableCheck: cfg.Auth.DisableCheck,
		token:        cfg.Upstream.Token,
		unresolved:   unresolved,
		logger:       logger.With("component", "auth"),
	}
}

// Check evaluates the presented X-Api-Key value. It returns nil when the call
// may proceed. The checks run in a fixed order: unresolved expected key,
// missing expected key, mismatch, unresolved upstream token.
func (g *Gate) Check(presented, traceID string) *apierror.Error {
	expected := strings.TrimSpace(g.expected)
	provided := strings.TrimSpace(presented)
	keyUnresolved := g.unresolved(expected)
	mismatch := !g.disableCheck && !keyUnresolved && expected != "" && provided != expected

	g.logger.Debug("auth_diag",
		"trace_id", traceID,
		"has_expected", expected != "",
		"has_provided", provided != "",
		"expected_len", len(expected),
		"provided_len", len(provided),
		"kv_unresolved", keyUnresolved,
		"disable_check", g.disableCheck,
		"mismatch", mismatch,
		"hash_expected_prefix", secret.Fingerprint(expected),
		"hash_provided_prefix", secret.Fingerprint(provided),
	)

	switch {
	case keyUnresolved:
		g.logger.Warn("secrets_unresolved", "which", apierror.WhichAPIKey, "trace_id", traceID)
		e := apierror.New(apierror.SecretsUnresolved, traceID)
		e.Which = apierror.WhichAPIKey
		return e
	case !g.disableCheck && expected == "":
		g.logger.Error("server misconfigured: caller API key not set", "trace_id", traceID)
		e := apierror.New(apierror.ServerMisconfigured, traceID)
		e.Reason = apierror.ReasonAPIKeyMissing
		return e
	case mismatch:
		e := apierror.New(apierror.Unauthorized, traceID)
		e.Reason = apierror.ReasonAPIKeyMismatch
		return e
	}
	return g.CheckToken(traceID)
}

// CheckToken fails with secrets_unresolved when the upstream token is an
// unresolved reference. An empty token passes; calls go out unauthenticated.
func (g *Gate) CheckToken(traceID string) *apierror.Error {
	if g.unresolved(g.token) {
		g.logger.Warn("secrets_unresolved", "which", apierror.WhichToken, "trace_id", traceID)
		e := apierror.New(apierror.SecretsUnresolved, traceID)
		e.Which = apierror.WhichToken
		return e
	}
	return nil
}

// RequireToken fails when no usable upstream token is configured. Endpoints
// that only work for authenticated upstream users call it after Check.
func (g *Gate) RequireToken(traceID string) *apierror.Error {
	if err := g.CheckToken(traceID); err != nil {
		return err
	}
	if strings.TrimSpace(g.token) == "" {
		e := apierror.New(apierror.Unauthorized, traceID)
		e.Reason = apierror.ReasonTokenMissing
		return e
	}
	return nil
}

// TokenConfigured reports whether a literal upstream token is set.
func (g *Gate) TokenConfigured() bool {
	return strings.TrimSpace(g.token) != "" && !g.unresolved(g.token)
}

// KeyConfigured reports whether a literal caller API key is set.
func (g *Gate) KeyConfigured() bool {
	return strings.TrimSpace(g.expected) != "" && !g.unresolved(g.expected)
}
