// Package ipc implements the local control-plane surface: a line-delimited
// JSON request/response protocol over a named pipe (Windows) or Unix
// domain socket, authenticated by OS-level peer identity rather than a
// credential exchanged over the wire. The framing is deliberately simple —
// both ends of the pipe run on the same machine behind the same ACL, so
// there is no transport to sign against; peer-credential lookups
// (GetPeerCredentials, one file per platform) and a sliding-window accept
// limiter are the whole trust story.
package ipc

import (
	"encoding/json"

	"github.com/breeze-rmm/agent/internal/config"
	"github.com/breeze-rmm/agent/internal/secmem"
)

// Request types recognized on the pipe.
const (
	TypeStatus      = "status"
	TypeSetPassword = "set_password"
	TypeSetResolver = "set_resolver"
	TypeSetICE      = "set_ice"
)

// Structured error enum values returned on the pipe.
const (
	ErrMissingType   = "missing_type"
	ErrUnknownType   = "unknown_type"
	ErrEmptyPassword = "empty_password"
	ErrEmptyResolver = "empty_resolver"
	ErrEmptyICE      = "empty_ice"
	ErrException     = "exception"
)

// Request is the generic envelope every line on the pipe decodes into; the
// union of every request's optional fields.
type Request struct {
	Type           string   `json:"type"`
	Password       string   `json:"password,omitempty"`
	ResolverURL    string   `json:"resolver_url,omitempty"`
	STUN           []string `json:"stun,omitempty"`
	TURNURL        string   `json:"turn_url,omitempty"`
	TURNUsername   string   `json:"turn_username,omitempty"`
	TURNCredential string   `json:"turn_credential,omitempty"`
}

// Response is the generic envelope every reply is marshaled from.
type Response struct {
	Status               string   `json:"status"`
	Error                string   `json:"error,omitempty"`
	HostID               string   `json:"host_id,omitempty"`
	HasPassword          *bool    `json:"has_password,omitempty"`
	SignalingResolverURL string   `json:"signaling_resolver_url,omitempty"`
	STUN                 []string `json:"stun,omitempty"`
	TURN                 *turnResponse `json:"turn,omitempty"`
}

type turnResponse struct {
	URL        string `json:"url"`
	Username   string `json:"username"`
	Credential string `json:"credential"`
}

func errorResponse(code string) Response {
	return Response{Status: "error", Error: code}
}

func okResponse() Response {
	return Response{Status: "ok"}
}

// Dispatch decodes one request line against cfg and returns the response to
// write back. It never panics on malformed input — every failure mode
// becomes a structured {status:"error", error:<enum>} response, and the
// connection stays open.
func Dispatch(cfg *config.Store, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(ErrException)
	}
	if req.Type == "" {
		return errorResponse(ErrMissingType)
	}

	switch req.Type {
	case TypeStatus:
		return handleStatus(cfg)
	case TypeSetPassword:
		return handleSetPassword(cfg, req)
	case TypeSetResolver:
		return handleSetResolver(cfg, req)
	case TypeSetICE:
		return handleSetICE(cfg, req)
	default:
		return errorResponse(ErrUnknownType)
	}
}

func handleStatus(cfg *config.Store) Response {
	snap := cfg.Snapshot()
	hasPassword := cfg.HasPassword()
	resp := Response{
		Status:               "ok",
		HostID:                snap.HostID,
		HasPassword:          &hasPassword,
		SignalingResolverURL: snap.SignalingResolverURL,
		STUN:                 snap.STUN,
	}
	if snap.TURN.URL != "" {
		resp.TURN = &turnResponse{URL: snap.TURN.URL, Username: snap.TURN.Username, Credential: snap.TURN.Credential}
	}
	return resp
}

func handleSetPassword(cfg *config.Store, req Request) Response {
	if req.Password == "" {
		return errorResponse(ErrEmptyPassword)
	}
	secret := secmem.NewSecureString(req.Password)
	req.Password = ""
	defer secret.Zero()

	if err := cfg.SetPassword(secret.Reveal()); err != nil {
		return errorResponse(ErrException)
	}
	return okResponse()
}

func handleSetResolver(cfg *config.Store, req Request) Response {
	if req.ResolverURL == "" {
		return errorResponse(ErrEmptyResolver)
	}
	if err := cfg.SetResolverURL(req.ResolverURL); err != nil {
		return errorResponse(ErrException)
	}
	return okResponse()
}

func handleSetICE(cfg *config.Store, req Request) Response {
	if len(req.STUN) == 0 && req.TURNURL == "" {
		return errorResponse(ErrEmptyICE)
	}
	if err := cfg.SetICE(req.STUN, req.TURNURL, req.TURNUsername, req.TURNCredential); err != nil {
		return errorResponse(ErrException)
	}
	return okResponse()
}
