package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidParams is returned when channel parameters fail validation.
var ErrInvalidParams = errors.New("invalid channel parameters")

// ChannelType enumerates supported notification channels.
type ChannelType string

const (
	ChannelEmail ChannelType = "email"
	ChannelHTTP  ChannelType = "http"
	ChannelChat  ChannelType = "chat"
)

func (c ChannelType) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelHTTP, ChannelChat:
		return true
	default:
		return false
	}
}

// ChannelParams is implemented by every channel's parameter struct.
type ChannelParams interface {
	Channel() ChannelType
	validate() error
}

// NotifyTemplate is reusable delivery configuration referenced by rules.
type NotifyTemplate struct {
	ID          TemplateID    `json:"id"`
	Name        string        `json:"name"`
	Type        ChannelType   `json:"type"`
	Params      ChannelParams `json:"params"`
	Description string        `json:"description,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// CreateTemplateRequest is the payload for creating a notify template.
type CreateTemplateRequest struct {
	Name        string          `json:"name"`
	Type        ChannelType     `json:"type"`
	Params      json.RawMessage `json:"params"`
	Description string          `json:"description"`
}

// Chat delivery modes.
const (
	ChatModeGroup    = "group"
	ChatModePersonal = "personal"
)

// EmailParams configures SMTP delivery.
type EmailParams struct {
	SMTPHost    string   `json:"smtp_host" validate:"required"`
	SMTPPort    int      `json:"smtp_port" validate:"required,min=1,max=65535"`
	From        string   `json:"from" validate:"required"`
	To          []string `json:"to" validate:"required,min=1,dive,required"`
	CC          []string `json:"cc,omitempty" validate:"omitempty,dive,required"`
	RequireAuth bool     `json:"require_auth,omitempty"`
	User        string   `json:"user,omitempty" validate:"required_if=RequireAuth true"`
	Password    string   `json:"password,omitempty"`
	StartTLS    bool     `json:"starttls,omitempty"`
	SSL         bool     `json:"ssl,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Content     string   `json:"content,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

func (EmailParams) Channel() ChannelType { return ChannelEmail }

func (p EmailParams) validate() error {
	if p.StartTLS && p.SSL {
		return errors.New("starttls and ssl are mutually exclusive")
	}
	return nil
}

// HTTPParams configures a generic HTTP call. Body is either a string or a
// JSON object whose string values may contain placeholders.
type HTTPParams struct {
	URL       string            `json:"url" validate:"required,url"`
	Method    string            `json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      any               `json:"body,omitempty"`
	Timeout   int               `json:"timeout,omitempty" validate:"omitempty,min=1,max=300"`
	VerifySSL *bool             `json:"verify_ssl,omitempty"`
}

func (HTTPParams) Channel() ChannelType { return ChannelHTTP }

func (p HTTPParams) validate() error {
	switch p.Body.(type) {
	case nil, string, map[string]any:
		return nil
	default:
		return fmt.Errorf("body must be a string or an object, got %T", p.Body)
	}
}

// ChatParams configures delivery through the chat robot API.
type ChatParams struct {
	Mode        string            `json:"mode" validate:"required,oneof=group personal"`
	URL         string            `json:"url" validate:"required,url"`
	FromID      string            `json:"fromId" validate:"required"`
	GroupID     string            `json:"groupId,omitempty" validate:"required_if=Mode group"`
	UserIDs     string            `json:"userIds,omitempty" validate:"required_if=Mode personal"`
	Ext         string            `json:"ext,omitempty"`
	Body        string            `json:"body,omitempty"`
	PushContent string            `json:"pushcontent,omitempty"`
	Payload     string            `json:"payload,omitempty"`
	Option      string            `json:"option,omitempty"`
	UserMapping map[string]string `json:"userMapping,omitempty"`
}

func (ChatParams) Channel() ChannelType { return ChannelChat }

func (ChatParams) validate() error { return nil }

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeParams decodes and validates raw parameters for the given channel.
// Unknown fields are rejected.
func DecodeParams(t ChannelType, raw []byte) (ChannelParams, error) {
	var params ChannelParams
	switch t {
	case ChannelEmail:
		var p EmailParams
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		params = p
	case ChannelHTTP:
		var p HTTPParams
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		params = p
	case ChannelChat:
		var p ChatParams
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		params = p
	default:
		return nil, fmt.Errorf("%w: unsupported channel type %q", ErrInvalidParams, t)
	}

	if err := validate.Struct(params); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParams, err)
	}
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParams, err)
	}
	return params, nil
}

func decodeStrict(raw []byte, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: params are required", ErrInvalidParams)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParams, err)
	}
	return nil
}

// CanonicalParams returns the canonical JSON encoding of params and its
// SHA-256 digest. Identical parameter sets always produce the same digest.
func CanonicalParams(params ChannelParams) ([]byte, string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, "", fmt.Errorf("encoding params: %w", err)
	}
	sum := sha256.Sum256(b)
	return b, hex.EncodeToString(sum[:]), nil
}

// SplitUserIDs splits a comma separated recipient list, trimming whitespace.
func SplitUserIDs(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
