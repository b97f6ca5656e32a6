// ABOUTME: Resolves the caller behind an MCP request from a URL token or a bearer JWT.
// ABOUTME: The same credential string later proves ownership of the session.

package mcp

import (
	"errors"
	"net/http"
	"strings"

	"github.com/2389/coven-toolhost/internal/auth"
	"github.com/2389/coven-toolhost/internal/packs"
)

var (
	// errBadCredential means credentials were sent but did not check out.
	// Such requests never fall back to the default caller.
	errBadCredential = errors.New("invalid or expired token")
	errNoCredential  = errors.New("no credentials")
)

type credentialKind int

const (
	credNone credentialKind = iota
	credURLToken
	credBearer
	credMalformed
)

type credential struct {
	kind  credentialKind
	value string
}

// credentialOf picks the request's credential: a /mcp/<token> path segment,
// then a token query parameter, then the Authorization header.
func credentialOf(r *http.Request) credential {
	if rest, ok := strings.CutPrefix(r.URL.Path, "/mcp/"); ok && rest != "" {
		rest = strings.TrimRight(rest, "/")
		if rest == "" || strings.Contains(rest, "/") {
			return credential{kind: credMalformed}
		}
		return credential{kind: credURLToken, value: rest}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return credential{kind: credURLToken, value: token}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return credential{}
	}
	token, problem := auth.ExtractBearerToken(header)
	if problem != "" {
		return credential{kind: credMalformed}
	}
	return credential{kind: credBearer, value: token}
}

func (s *Server) resolve(cred credential) (packs.Caller, error) {
	switch cred.kind {
	case credNone:
		return packs.Caller{}, errNoCredential
	case credURLToken:
		if s.tokens != nil {
			if c, ok := s.tokens.Lookup(cred.value); ok {
				return c, nil
			}
		}
	case credBearer:
		if s.verifier != nil {
			if claims, err := s.verifier.Verify(cred.value); err == nil {
				return newCaller(claims.UserID, claims.Capabilities), nil
			}
		}
	}
	return packs.Caller{}, errBadCredential
}
