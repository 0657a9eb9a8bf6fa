package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mr-karan/promalert/internal/store"
	"github.com/mr-karan/promalert/pkg/models"
)

var (
	// ErrTemplateMissing means the rule has no usable notify template.
	ErrTemplateMissing = errors.New("notify template missing")
	// ErrUnsupportedChannel means no channel is registered for a template type.
	ErrUnsupportedChannel = errors.New("unsupported channel type")
)

// Payload is a rendered message ready for delivery on one channel.
type Payload interface {
	Channel() models.ChannelType
}

// Channel renders and delivers notifications of one type. Send never
// returns an error; failures are reported in the result.
type Channel interface {
	Type() models.ChannelType
	Render(params models.ChannelParams, actx AlertContext) (Payload, error)
	Send(ctx context.Context, payload Payload) DeliveryResult
}

// DeliveryResult is the outcome of one send attempt.
type DeliveryResult struct {
	Channel    models.ChannelType `json:"channel"`
	Success    bool               `json:"success"`
	StatusCode int                `json:"status_code,omitempty"`
	Message    string             `json:"msg"`
	Response   string             `json:"response,omitempty"`

	// Fan-out deliveries only.
	Partial    bool              `json:"partial,omitempty"`
	Total      int               `json:"total_count,omitempty"`
	Succeeded  int               `json:"success_count,omitempty"`
	Failed     int               `json:"failed_count,omitempty"`
	Recipients []RecipientResult `json:"results,omitempty"`
}

// RecipientResult is the outcome of delivering to a single recipient.
type RecipientResult struct {
	UserID       string `json:"user_id"`
	MappedUserID string `json:"mapped_user_id"`
	Success      bool   `json:"success"`
	StatusCode   int    `json:"status_code,omitempty"`
	Response     string `json:"response,omitempty"`
	Error        string `json:"error,omitempty"`
}

func failedResult(ch models.ChannelType, format string, args ...any) DeliveryResult {
	return DeliveryResult{Channel: ch, Message: fmt.Sprintf(format, args...)}
}

// TemplateGetter loads notify templates.
type TemplateGetter interface {
	GetTemplate(ctx context.Context, id models.TemplateID) (*models.NotifyTemplate, error)
}

type DispatcherOptions struct {
	Templates TemplateGetter
	Channels  []Channel
	Logger    *slog.Logger
}

// Dispatcher routes notifications to the channel matching a rule's template.
type Dispatcher struct {
	templates TemplateGetter
	channels  map[models.ChannelType]Channel
	logger    *slog.Logger
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	channels := make(map[models.ChannelType]Channel, len(opts.Channels))
	for _, ch := range opts.Channels {
		if ch != nil {
			channels[ch.Type()] = ch
		}
	}
	return &Dispatcher{
		templates: opts.Templates,
		channels:  channels,
		logger:    logger.With("component", "alert_dispatcher"),
	}
}

// Target is a resolved template together with the channel that delivers it.
type Target struct {
	Template *models.NotifyTemplate
	Channel  Channel
}

// Resolve looks up the template of rule and its channel without any
// delivery I/O.
func (d *Dispatcher) Resolve(ctx context.Context, rule *models.Rule) (Target, error) {
	if rule.NotifyTemplateID == nil {
		return Target{}, fmt.Errorf("%w: rule %d has no template", ErrTemplateMissing, rule.ID)
	}
	tmpl, err := d.templates.GetTemplate(ctx, *rule.NotifyTemplateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Target{}, fmt.Errorf("%w: template %d does not exist", ErrTemplateMissing, *rule.NotifyTemplateID)
		}
		return Target{}, fmt.Errorf("loading template %d: %w", *rule.NotifyTemplateID, err)
	}
	ch, ok := d.channels[tmpl.Type]
	if !ok {
		return Target{}, fmt.Errorf("%w: %q", ErrUnsupportedChannel, tmpl.Type)
	}
	return Target{Template: tmpl, Channel: ch}, nil
}

// Deliver renders and sends one notification through a resolved target.
// Render failures count as failed attempts.
func (d *Dispatcher) Deliver(ctx context.Context, t Target, actx AlertContext) DeliveryResult {
	payload, err := t.Channel.Render(t.Template.Params, actx)
	if err != nil {
		d.logger.Error("error rendering notification",
			"rule_id", actx.RuleID, "template_id", t.Template.ID, "channel", t.Template.Type, "error", err)
		result := failedResult(t.Template.Type, "render failed: %v", err)
		observeDelivery(result)
		return result
	}

	result := t.Channel.Send(ctx, payload)
	result.Channel = t.Template.Type
	observeDelivery(result)

	if result.Success {
		d.logger.Info("notification delivered",
			"rule_id", actx.RuleID, "rule_name", actx.RuleName, "channel", result.Channel, "partial", result.Partial)
	} else {
		d.logger.Warn("notification delivery failed",
			"rule_id", actx.RuleID, "rule_name", actx.RuleName, "channel", result.Channel, "error", result.Message)
	}
	return result
}

// Dispatch resolves the template of rule and delivers one notification.
func (d *Dispatcher) Dispatch(ctx context.Context, rule *models.Rule, actx AlertContext) (DeliveryResult, error) {
	t, err := d.Resolve(ctx, rule)
	if err != nil {
		return DeliveryResult{}, err
	}
	return d.Deliver(ctx, t, actx), nil
}
