package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memohai/switchboard/internal/auth"
	"github.com/memohai/switchboard/internal/channel"
	"github.com/memohai/switchboard/internal/conversation"
	"github.com/memohai/switchboard/internal/event"
	"github.com/memohai/switchboard/internal/inbox"
	"github.com/memohai/switchboard/internal/message"
	"github.com/memohai/switchboard/internal/outbound"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	streamKeepAlive     = 25 * time.Second
)

// ConversationService is the operator-facing conversation surface.
type ConversationService interface {
	Get(ctx context.Context, organizationID, conversationID string) (conversation.Conversation, error)
	Takeover(ctx context.Context, conversationID, operatorID string) (conversation.Conversation, error)
	Release(ctx context.Context, conversationID string) (conversation.Conversation, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// InboxReader lists and counts an organization's conversations.
type InboxReader interface {
	List(ctx context.Context, organizationID string, f inbox.ListFilter) ([]conversation.Conversation, error)
	Count(ctx context.Context, organizationID string) (inbox.Counts, error)
}

// OrganizationAccounts finds the account an operator reply is sent from.
type OrganizationAccounts interface {
	FindByOrganization(ctx context.Context, organizationID string, platform channel.Type) (channel.Account, error)
}

// ReplyDispatcher sends and records an outbound message.
type ReplyDispatcher interface {
	Dispatch(ctx context.Context, req outbound.Request) (outbound.Result, error)
}

// EventStream lets operators follow their organization's events.
type EventStream interface {
	Subscribe(organizationID string, buffer int) (string, <-chan event.Event, func())
}

// OperatorHandler serves the JWT-protected operator API under /api.
type OperatorHandler struct {
	conversations ConversationService
	inbox         InboxReader
	messages      message.Reader
	accounts      OrganizationAccounts
	dispatcher    ReplyDispatcher
	publisher     event.Publisher
	stream        EventStream
	logger        *slog.Logger
}

// OperatorDeps are the collaborators of the operator API. Inbox and Stream may be nil.
type OperatorDeps struct {
	Conversations ConversationService
	Inbox         InboxReader
	Messages      message.Reader
	Accounts      OrganizationAccounts
	Dispatcher    ReplyDispatcher
	Publisher     event.Publisher
	Stream        EventStream
}

// NewOperatorHandler creates the operator handler.
func NewOperatorHandler(log *slog.Logger, deps OperatorDeps) *OperatorHandler {
	if log == nil {
		log = slog.Default()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	return &OperatorHandler{
		conversations: deps.Conversations,
		inbox:         deps.Inbox,
		messages:      deps.Messages,
		accounts:      deps.Accounts,
		dispatcher:    deps.Dispatcher,
		publisher:     publisher,
		stream:        deps.Stream,
		logger:        log.With(slog.String("handler", "operator")),
	}
}

// Register mounts the operator routes.
func (h *OperatorHandler) Register(e *echo.Echo) {
	g := e.Group("/api/conversations")
	if h.inbox != nil {
		g.GET("", h.ListConversations)
		g.GET("/counts", h.CountConversations)
	}
	g.GET("/:id", h.GetConversation)
	g.GET("/:id/messages", h.ListMessages)
	g.POST("/:id/messages", h.SendMessage)
	g.POST("/:id/takeover", h.Takeover)
	g.POST("/:id/release", h.Release)
	g.POST("/:id/read", h.MarkRead)
	if h.stream != nil {
		e.GET("/api/events", h.StreamEvents)
	}
}

// SendMessageRequest is the body of POST /api/conversations/:id/messages.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessageResponse reports the recorded message and whether the provider accepted it.
type SendMessageResponse struct {
	Message   message.Message `json:"message"`
	Delivered bool            `json:"delivered"`
	Error     string          `json:"error,omitempty"`
}

// ListMessagesResponse is the body of GET /api/conversations/:id/messages.
type ListMessagesResponse struct {
	Items []message.Message `json:"items"`
}

// ListConversationsResponse is the body of GET /api/conversations.
type ListConversationsResponse struct {
	Items []conversation.Conversation `json:"items"`
}

// ListConversations returns the caller's inbox, newest activity first.
// Query: needs_attention, unread, agent, assignee (id or "me"), status, limit, offset.
func (h *OperatorHandler) ListConversations(c echo.Context) error {
	op, err := h.operator(c)
	if err != nil {
		return err
	}
	filter := inbox.ListFilter{
		NeedsAttention: queryBool(c, "needs_attention"),
		UnreadOnly:     queryBool(c, "unread"),
		Status:         strings.TrimSpace(c.QueryParam("status")),
	}
	switch agent := strings.TrimSpace(c.QueryParam("agent")); agent {
	case "":
	case string(conversation.AgentBot), string(conversation.AgentOperator):
		filter.Agent = conversation.Agent(agent)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "agent must be bot or operator")
	}
	filter.AssigneeID = strings.TrimSpace(c.QueryParam("assignee"))
	if filter.AssigneeID == "me" {
		filter.AssigneeID = op.ID
	}
	if filter.AssigneeID != "" {
		if _, err := uuid.Parse(filter.AssigneeID); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid assignee")
		}
	}
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		return err
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		return err
	}
	items, err := h.inbox.List(c.Request().Context(), op.OrganizationID, filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ListConversationsResponse{Items: items})
}

// CountConversations returns the inbox badges.
func (h *OperatorHandler) CountConversations(c echo.Context) error {
	op, err := h.operator(c)
	if err != nil {
		return err
	}
	counts, err := h.inbox.Count(c.Request().Context(), op.OrganizationID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, counts)
}

// GetConversation returns one conversation of the caller's organization.
func (h *OperatorHandler) GetConversation(c echo.Context) error {
	_, conv, err := h.scoped(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

// ListMessages returns the latest messages in chronological order.
func (h *OperatorHandler) ListMessages(c echo.Context) error {
	_, conv, err := h.scoped(c)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	if limit == 0 {
		limit = defaultMessageLimit
	}
	limit = min(limit, maxMessageLimit)
	items, err := h.messages.ListRecent(c.Request().Context(), conv.ID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []message.Message{}
	}
	return c.JSON(http.StatusOK, ListMessagesResponse{Items: items})
}

// SendMessage dispatches an operator reply through the conversation's platform.
func (h *OperatorHandler) SendMessage(c echo.Context) error {
	op, conv, err := h.scoped(c)
	if err != nil {
		return err
	}
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	ctx := c.Request().Context()
	account, err := h.accounts.FindByOrganization(ctx, conv.OrganizationID, channel.Type(conv.Platform))
	if err != nil {
		if errors.Is(err, channel.ErrAccountNotFound) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "no enabled channel account for platform")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	res, err := h.dispatcher.Dispatch(ctx, outbound.Request{
		Account:        account,
		ConversationID: conv.ID,
		OrganizationID: conv.OrganizationID,
		ContactID:      conv.ContactID,
		Text:           text,
		Sender:         message.SenderOperator,
		Metadata: map[string]any{
			message.MetaOperatorID:       op.ID,
			message.MetaChannelAccountID: account.ID,
		},
	})
	if err != nil {
		h.logger.Error("operator reply not recorded",
			slog.String("conversation_id", conv.ID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "persist message")
	}
	resp := SendMessageResponse{Message: res.Message, Delivered: res.Delivered}
	if res.SendErr != nil {
		resp.Error = res.SendErr.Error()
	}
	return c.JSON(http.StatusCreated, resp)
}

// Takeover assigns the conversation to the caller.
func (h *OperatorHandler) Takeover(c echo.Context) error {
	op, conv, err := h.scoped(c)
	if err != nil {
		return err
	}
	updated, err := h.conversations.Takeover(c.Request().Context(), conv.ID, op.ID)
	if err != nil {
		if errors.Is(err, conversation.ErrAssignedToAnother) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.publish(c.Request().Context(), event.TypeConversationAssigned, updated, map[string]string{"operator_id": op.ID})
	return c.JSON(http.StatusOK, updated)
}

// Release hands the conversation back to the bot.
func (h *OperatorHandler) Release(c echo.Context) error {
	op, conv, err := h.scoped(c)
	if err != nil {
		return err
	}
	updated, err := h.conversations.Release(c.Request().Context(), conv.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.publish(c.Request().Context(), event.TypeConversationReleased, updated, map[string]string{"operator_id": op.ID})
	return c.JSON(http.StatusOK, updated)
}

// MarkRead clears the unread counter.
func (h *OperatorHandler) MarkRead(c echo.Context) error {
	_, conv, err := h.scoped(c)
	if err != nil {
		return err
	}
	if err := h.conversations.MarkRead(c.Request().Context(), conv.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// StreamEvents streams the caller's organization events as server-sent events.
func (h *OperatorHandler) StreamEvents(c echo.Context) error {
	op, err := h.operator(c)
	if err != nil {
		return err
	}
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	_, events, cancel := h.stream.Subscribe(op.OrganizationID, event.DefaultBufferSize)
	defer cancel()

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Response().Write([]byte(": keep-alive\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func (h *OperatorHandler) operator(c echo.Context) (auth.Operator, error) {
	op, err := auth.OperatorFromContext(c)
	if err != nil {
		return auth.Operator{}, err
	}
	if op.OrganizationID == "" {
		return auth.Operator{}, echo.NewHTTPError(http.StatusForbidden, "token is not bound to an organization")
	}
	return op, nil
}

// scoped resolves the caller and the path conversation within the caller's organization.
func (h *OperatorHandler) scoped(c echo.Context) (auth.Operator, conversation.Conversation, error) {
	op, err := h.operator(c)
	if err != nil {
		return auth.Operator{}, conversation.Conversation{}, err
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return auth.Operator{}, conversation.Conversation{}, echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	conv, err := h.conversations.Get(c.Request().Context(), op.OrganizationID, id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return auth.Operator{}, conversation.Conversation{}, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return auth.Operator{}, conversation.Conversation{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return op, conv, nil
}

func (h *OperatorHandler) publish(ctx context.Context, typ event.Type, conv conversation.Conversation, data any) {
	ev, err := event.New(typ, conv.OrganizationID, conv.ID, data)
	if err != nil {
		h.logger.Warn("build event failed", slog.String("type", string(typ)), slog.Any("error", err))
		return
	}
	if err := h.publisher.Publish(ctx, ev); err != nil {
		h.logger.Warn("publish event failed", slog.String("type", string(typ)), slog.Any("error", err))
	}
}

func queryBool(c echo.Context, name string) bool {
	v, _ := strconv.ParseBool(strings.TrimSpace(c.QueryParam(name)))
	return v
}

// queryInt parses a non-negative integer parameter; absent reads as 0.
func queryInt(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}
