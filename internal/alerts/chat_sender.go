package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mr-karan/promalert/internal/template"
	"github.com/mr-karan/promalert/pkg/models"
)

const (
	chatMessageType = "100"
	// chatSkipUserID is a placeholder id that never receives messages.
	chatSkipUserID       = "000001"
	maxRecipientResponse = 100
)

func defaultChatBody() map[string]any {
	return map[string]any{
		"robot": map[string]any{"type": "robotAnswer"},
		"type":  "multi",
		"msgs": []any{
			map[string]any{
				"text": "🚨 【{level}】告警通知\n规则: {rule_name}\n当前值: {current_value}\n时间: {trigger_time}",
				"type": "text",
			},
		},
	}
}

type ChatSenderOptions struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// ChatSender delivers the chat channel to a group or fans out to users.
type ChatSender struct {
	client *http.Client
	logger *slog.Logger
}

// ChatMessage is a rendered chat notification.
type ChatMessage struct {
	Params models.ChatParams
}

func (ChatMessage) Channel() models.ChannelType { return models.ChannelChat }

func NewChatSender(opts ChatSenderOptions) *ChatSender {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatSender{
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "alert_chat_sender"),
	}
}

func (s *ChatSender) Type() models.ChannelType { return models.ChannelChat }

// Render fills placeholders in the body, ext and sender fields. A JSON body
// gets its substituted values JSON-escaped.
func (s *ChatSender) Render(params models.ChannelParams, actx AlertContext) (Payload, error) {
	p, ok := params.(models.ChatParams)
	if !ok {
		return nil, fmt.Errorf("chat channel got %T params", params)
	}
	vars := actx.Vars()

	if strings.TrimSpace(p.Body) == "" {
		body, err := marshalJSON(template.RenderValue(defaultChatBody(), vars))
		if err != nil {
			return nil, fmt.Errorf("encoding default body: %w", err)
		}
		p.Body = string(body)
	} else {
		p.Body = renderMaybeJSON(p.Body, vars)
	}
	p.Ext = renderMaybeJSON(p.Ext, vars)
	p.FromID = template.Render(p.FromID, vars)
	p.GroupID = template.Render(p.GroupID, vars)
	p.PushContent = template.Render(p.PushContent, vars)

	return &ChatMessage{Params: p}, nil
}

func renderMaybeJSON(s string, vars map[string]string) string {
	if json.Valid([]byte(s)) {
		return template.RenderFunc(s, vars, template.JSONEscape)
	}
	return template.Render(s, vars)
}

func (s *ChatSender) Send(ctx context.Context, payload Payload) DeliveryResult {
	msg, ok := payload.(*ChatMessage)
	if !ok {
		return failedResult(models.ChannelChat, "chat channel got %T payload", payload)
	}
	if msg.Params.Mode == models.ChatModePersonal {
		return s.sendPersonal(ctx, msg.Params)
	}
	return s.sendGroup(ctx, msg.Params)
}

func (s *ChatSender) sendGroup(ctx context.Context, p models.ChatParams) DeliveryResult {
	form := baseChatForm(p)
	form.Set("groupId", p.GroupID)

	status, body, err := s.post(ctx, p.URL, form)
	if err != nil {
		return failedResult(models.ChannelChat, "group message failed: %v", err)
	}
	result := DeliveryResult{
		Channel:    models.ChannelChat,
		StatusCode: status,
		Response:   body,
		Success:    status >= http.StatusOK && status < http.StatusMultipleChoices,
	}
	if result.Success {
		result.Message = "group message sent"
	} else {
		result.Message = fmt.Sprintf("group message failed: status %d", status)
	}
	return result
}

// sendPersonal posts one message per recipient. The delivery succeeds when
// at least one recipient succeeds.
func (s *ChatSender) sendPersonal(ctx context.Context, p models.ChatParams) DeliveryResult {
	result := DeliveryResult{Channel: models.ChannelChat}

	for _, userID := range models.SplitUserIDs(p.UserIDs) {
		if userID == "" || userID == chatSkipUserID {
			continue
		}
		mapped := userID
		if m, ok := p.UserMapping[userID]; ok && m != "" {
			mapped = m
		}

		form := baseChatForm(p)
		form.Set("toUser", mapped)

		rr := RecipientResult{UserID: userID, MappedUserID: mapped}
		status, body, err := s.post(ctx, p.URL, form)
		if err != nil {
			rr.Error = err.Error()
			s.logger.Warn("personal chat message failed", "user_id", userID, "mapped_user_id", mapped, "error", err)
		} else {
			rr.StatusCode = status
			rr.Response = truncateRunes(body, maxRecipientResponse)
			rr.Success = status >= http.StatusOK && status < http.StatusMultipleChoices
			if !rr.Success {
				s.logger.Warn("personal chat message rejected", "user_id", userID, "mapped_user_id", mapped, "status", status)
			}
		}

		if rr.Success {
			result.Succeeded++
		}
		result.Recipients = append(result.Recipients, rr)
	}

	result.Total = len(result.Recipients)
	result.Failed = result.Total - result.Succeeded
	result.Success = result.Succeeded > 0
	result.Partial = result.Success && result.Failed > 0
	result.Message = fmt.Sprintf("personal messages sent: %d/%d succeeded", result.Succeeded, result.Total)
	return result
}

func baseChatForm(p models.ChatParams) url.Values {
	form := url.Values{}
	form.Set("type", chatMessageType)
	form.Set("fromId", p.FromID)
	form.Set("ext", p.Ext)
	form.Set("body", p.Body)
	if p.PushContent != "" {
		form.Set("pushcontent", p.PushContent)
	}
	if p.Payload != "" {
		form.Set("payload", p.Payload)
	}
	if p.Option != "" {
		form.Set("option", p.Option)
	}
	return form
}

func (s *ChatSender) post(ctx context.Context, endpoint string, form url.Values) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseDetail))
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}

// truncateRunes cuts s to at most n characters.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
