// Package auth resolves bearer tokens to a caller and role.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"
)

// Roles, weakest first.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var rank = map[string]int{RoleViewer: 1, RoleOperator: 2, RoleAdmin: 3}

var (
	ErrNoToken     = errors.New("missing bearer token")
	ErrBadToken    = errors.New("invalid token")
	ErrBadSig      = errors.New("bad signature")
	ErrExpired     = errors.New("token expired")
	ErrUnknownRole = errors.New("unknown role")
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Role    string
}

// Can reports whether p holds role or a stronger one.
func (p Principal) Can(role string) bool { return rank[p.Role] >= rank[role] && rank[role] > 0 }

// Verifier validates bearer tokens.
// Modes: dev (anyone, "sub:role" tokens honoured), token (static
// AUTH_TOKENS list), hmac (HS256 JWT signed with AUTH_HMAC_SECRET).
type Verifier struct {
	Mode       string
	HMACSecret []byte
	Tokens     map[string]Principal
	RoleClaim  string
	now        func() time.Time
}

func NewVerifierFromEnv() *Verifier {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:       mode,
		HMACSecret: []byte(os.Getenv("AUTH_HMAC_SECRET")),
		Tokens:     ParseTokens(os.Getenv("AUTH_TOKENS")),
		RoleClaim:  envOr("AUTH_ROLE_CLAIM", "role"),
		now:        time.Now,
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// ParseTokens reads "token=role,token=role". Entries with an unknown
// role are skipped.
func ParseTokens(s string) map[string]Principal {
	out := map[string]Principal{}
	for _, part := range strings.Split(s, ",") {
		tok, role, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || tok == "" {
			continue
		}
		role = strings.ToLower(strings.TrimSpace(role))
		if rank[role] == 0 {
			continue
		}
		out[tok] = Principal{Subject: "token:" + tok[:min(4, len(tok))], Role: role}
	}
	return out
}

// Anonymous is what a request without credentials gets in dev mode.
func (v *Verifier) Anonymous() (Principal, error) {
	if v.Mode == "dev" {
		return Principal{Subject: "dev", Role: RoleAdmin}, nil
	}
	return Principal{}, ErrNoToken
}

func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case "dev":
		// token format: subject:role
		sub, role, ok := strings.Cut(token, ":")
		if !ok {
			return Principal{Subject: token, Role: RoleAdmin}, nil
		}
		role = strings.ToLower(role)
		if rank[role] == 0 {
			return Principal{}, ErrUnknownRole
		}
		return Principal{Subject: sub, Role: role}, nil
	case "token":
		p, ok := v.Tokens[token]
		if !ok {
			return Principal{}, ErrBadToken
		}
		return p, nil
	case "hmac":
		return v.verifyHS256(token)
	}
	return Principal{}, errors.New("unsupported auth mode")
}

func (v *Verifier) verifyHS256(token string) (Principal, error) {
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, ErrBadToken
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return Principal{}, ErrBadToken
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, ErrBadToken
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, ErrBadToken
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil || hdr.Alg != "HS256" {
		return Principal{}, ErrBadToken
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, ErrBadSig
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, ErrBadToken
	}
	if exp, ok := claims["exp"].(float64); ok {
		now := time.Now
		if v.now != nil {
			now = v.now
		}
		if now().Unix() >= int64(exp) {
			return Principal{}, ErrExpired
		}
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims[v.RoleClaim].(string)
	role = strings.ToLower(role)
	if role == "" {
		role = RoleViewer
	}
	if rank[role] == 0 {
		return Principal{}, ErrUnknownRole
	}
	return Principal{Subject: sub, Role: role}, nil
}

// SignHS256 builds a token Verify accepts in hmac mode. Used by tests
// and the demo client.
func SignHS256(secret []byte, claims map[string]any) (string, error) {
	hdr := b64urlEncode([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signing := hdr + "." + b64urlEncode(body)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signing))
	return signing + "." + b64urlEncode(mac.Sum(nil)), nil
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
func b64urlEncode(b []byte) string          { return base64.RawURLEncoding.EncodeToString(b) }
