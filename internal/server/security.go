package server

import (
	"fmt"
	"net/http"
)

// Baseline values for a service that only ever answers with JSON or a
// websocket upgrade. Nothing here serves HTML, so the policy forbids loading
// any sub-resource and refuses framing outright.
const (
	apiFrameAncestors     = "'none'"
	apiFrameOptions       = "DENY"
	apiReferrerPolicy     = "no-referrer"
	apiPermissionsPolicy  = "camera=(), microphone=(), geolocation=(), payment=()"
	apiContentTypeOptions = "nosniff"
)

// SecurityConfig overrides individual hardening headers. Zero-valued fields
// keep the API baseline; FrameAncestors is the knob deployments embedding the
// player behind a trusted host actually reach for, and it feeds the generated
// Content-Security-Policy unless a full policy is supplied.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameAncestors        string
	FrameOptions          string
	ReferrerPolicy        string
	PermissionsPolicy     string
	ContentTypeOptions    string
}

func apiContentSecurityPolicy(frameAncestors string) string {
	if frameAncestors == "" {
		frameAncestors = apiFrameAncestors
	}
	return fmt.Sprintf(
		"default-src 'none'; connect-src 'self'; base-uri 'none'; frame-ancestors %s; form-action 'none'",
		frameAncestors,
	)
}

// headers resolves the configuration into the set the middleware writes on
// every response.
func (cfg SecurityConfig) headers() map[string]string {
	policy := cfg.ContentSecurityPolicy
	if policy == "" {
		policy = apiContentSecurityPolicy(cfg.FrameAncestors)
	}
	return map[string]string{
		"Content-Security-Policy": policy,
		"X-Frame-Options":         headerOr(cfg.FrameOptions, apiFrameOptions),
		"X-Content-Type-Options":  headerOr(cfg.ContentTypeOptions, apiContentTypeOptions),
		"Referrer-Policy":         headerOr(cfg.ReferrerPolicy, apiReferrerPolicy),
		"Permissions-Policy":      headerOr(cfg.PermissionsPolicy, apiPermissionsPolicy),
	}
}

func headerOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	resolved := cfg.headers()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for key, value := range resolved {
			w.Header().Set(key, value)
		}
		next.ServeHTTP(w, r)
	})
}
