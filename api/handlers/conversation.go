package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/roundtable/agent/orchestrator"
	"github.com/BaSui01/roundtable/api"
	"github.com/BaSui01/roundtable/internal/cache"
	"github.com/BaSui01/roundtable/internal/ctxkeys"
	"github.com/BaSui01/roundtable/internal/telemetry"
	"github.com/BaSui01/roundtable/types"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 会话接口 Handler
// =============================================================================

// ConversationService 会话编排入口，*orchestrator.Orchestrator 实现该接口
type ConversationService interface {
	HandleIncoming(ctx context.Context, ev orchestrator.InboundEvent) (*orchestrator.Result, error)
	ApproveAndStart(ctx context.Context, id string) (*orchestrator.Result, error)
	Resume(ctx context.Context, id string) (types.Conversation, error)
	Stop(ctx context.Context, id, agentID string) (types.Conversation, error)
	EditPlanningMessage(ctx context.Context, id, text string) (types.Conversation, error)
	Complete(ctx context.Context, id, summary string) (types.Conversation, error)
	Get(id string) (types.Conversation, error)
	List(status types.Status) []types.Conversation
}

// DocumentationReader 会话文档的只读视图
type DocumentationReader interface {
	FetchLatestDetail(ctx context.Context, conversationID string) (string, error)
	FetchCompressedContext(ctx context.Context, conversationID string) (string, error)
}

// ConversationHandler 会话接口处理器
type ConversationHandler struct {
	svc       ConversationService
	docs      DocumentationReader
	dedupe    cache.Claimer
	dedupeTTL time.Duration
	logger    *zap.Logger
}

// ConversationOption 处理器选项
type ConversationOption func(*ConversationHandler)

// WithDocumentation 启用文档查询接口
func WithDocumentation(docs DocumentationReader) ConversationOption {
	return func(h *ConversationHandler) { h.docs = docs }
}

// WithDeduper 按 event_id 对入站事件去重
func WithDeduper(c cache.Claimer, ttl time.Duration) ConversationOption {
	return func(h *ConversationHandler) {
		h.dedupe = c
		h.dedupeTTL = ttl
	}
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(svc ConversationService, logger *zap.Logger, opts ...ConversationOption) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ConversationHandler{
		svc:       svc,
		dedupeTTL: 24 * time.Hour,
		logger:    logger.With(zap.String("component", "conversation_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 注册路由
func (h *ConversationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/events", h.HandleEvent)
	mux.HandleFunc("GET /v1/conversations", h.HandleList)
	mux.HandleFunc("GET /v1/conversations/{id}", h.HandleGet)
	mux.HandleFunc("GET /v1/conversations/{id}/documentation", h.HandleDocumentation)
	mux.HandleFunc("POST /v1/conversations/{id}/approve", h.HandleApprove)
	mux.HandleFunc("POST /v1/conversations/{id}/resume", h.HandleResume)
	mux.HandleFunc("POST /v1/conversations/{id}/stop", h.HandleStop)
	mux.HandleFunc("POST /v1/conversations/{id}/complete", h.HandleComplete)
	mux.HandleFunc("PUT /v1/conversations/{id}/plan", h.HandleEditPlan)
}

// =============================================================================
// 📥 入站事件
// =============================================================================

// HandleEvent 处理入站消息
// @Summary 入站消息
// @Tags 会话
// @Accept json
// @Produce json
// @Param request body api.EventRequest true "入站消息"
// @Success 200 {object} api.EventResponse
// @Router /v1/events [post]
func (h *ConversationHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.EventRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := validateEvent(&req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	ctx, span := telemetry.StartConversationSpan(r.Context(), "roundtable.event", "",
		telemetry.AttrChannelRef.String(req.ChannelRef))
	defer span.End()
	ctx = ctxkeys.WithConversation(ctx, "", req.ChannelRef)

	if req.EventID != "" && h.dedupe != nil {
		claimed, err := h.dedupe.Claim(ctx, "event:"+req.ChannelRef+":"+req.EventID, h.dedupeTTL)
		switch {
		case err != nil:
			// 去重存储不可用时照常处理，重复投递的代价低于丢消息
			ctxkeys.Logger(ctx, h.logger).Warn("event dedupe unavailable", zap.Error(err))
		case !claimed:
			ctxkeys.Logger(ctx, h.logger).Info("duplicate event ignored", zap.String("event_id", req.EventID))
			WriteSuccess(w, r, api.EventResponse{Duplicate: true, EventID: req.EventID})
			return
		}
	}

	res, err := h.svc.HandleIncoming(ctx, orchestrator.InboundEvent{
		ChannelRef: req.ChannelRef,
		AuthorID:   req.AuthorID,
		AuthorKind: types.AuthorKind(req.AuthorKind),
		Text:       req.Text,
		Topic:      req.Topic,
		Agents:     req.Agents,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		span.RecordError(err)
		WriteServiceError(w, r, err, h.logger)
		return
	}
	span.SetAttributes(telemetry.AttrConversationID.String(res.ConversationID))

	resp := eventResponse(res)
	resp.EventID = req.EventID
	WriteSuccess(w, r, resp)
}

func validateEvent(req *api.EventRequest) *types.Error {
	req.ChannelRef = strings.TrimSpace(req.ChannelRef)
	if req.ChannelRef == "" {
		return types.NewError(types.ErrInvalidRequest, "channel_ref is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return types.NewError(types.ErrInvalidRequest, "text is required")
	}
	switch types.AuthorKind(req.AuthorKind) {
	case "", types.AuthorHuman, types.AuthorAgent, types.AuthorSystem:
	default:
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown author_kind %q", req.AuthorKind))
	}
	if req.AuthorKind == string(types.AuthorAgent) && req.AuthorID == "" {
		return types.NewError(types.ErrInvalidRequest, "author_id is required for agent messages")
	}
	return nil
}

// eventResponse 汇总一次处理产生的全部消息
func eventResponse(res *orchestrator.Result) api.EventResponse {
	out := api.EventResponse{
		ConversationID: res.ConversationID,
		Status:         res.Status,
		Created:        res.Created,
		Ignored:        res.Ignored,
		Message:        res.Message,
		Paused:         res.Status == types.StatusPaused,
	}
	if res.Planning != nil {
		out.Replies = append(out.Replies, res.Planning.Messages...)
	}
	for _, d := range res.Decisions {
		if d != nil {
			out.Replies = append(out.Replies, d.Messages...)
		}
	}
	for _, t := range res.Turns {
		if t == nil {
			continue
		}
		out.Replies = append(out.Replies, t.Messages...)
		out.FailedAgents = append(out.FailedAgents, t.Failed...)
		out.Paused = out.Paused || t.Paused
	}
	return out
}

// =============================================================================
// 🔍 查询
// =============================================================================

// HandleList 列出会话，可按 ?status= 过滤
func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := types.Status(r.URL.Query().Get("status"))
	switch status {
	case "", types.StatusPlanning, types.StatusActive, types.StatusPaused, types.StatusCompleted, types.StatusStopped:
	default:
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest,
			fmt.Sprintf("unknown status %q", status), h.logger)
		return
	}

	convs := h.svc.List(status)
	list := api.ConversationList{Conversations: make([]api.ConversationSummary, 0, len(convs)), Total: len(convs)}
	for _, c := range convs {
		list.Conversations = append(list.Conversations, api.Summarize(c))
	}
	WriteSuccess(w, r, list)
}

// HandleGet 返回完整会话
func (h *ConversationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.svc.Get(r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, conv)
}

// HandleDocumentation 返回最近的详细记录与压缩上下文
func (h *ConversationHandler) HandleDocumentation(w http.ResponseWriter, r *http.Request) {
	if h.docs == nil {
		WriteErrorMessage(w, r, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "documentation is disabled", h.logger)
		return
	}
	id := r.PathValue("id")
	if _, err := h.svc.Get(id); err != nil {
		WriteServiceError(w, r, err, h.logger)
		return
	}

	detail, err := h.docs.FetchLatestDetail(r.Context(), id)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrUpstreamError, "fetch documentation failed").WithCause(err), h.logger)
		return
	}
	compressed, err := h.docs.FetchCompressedContext(r.Context(), id)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrUpstreamError, "fetch compressed context failed").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, r, api.DocumentationResponse{
		ConversationID:    id,
		LatestDetail:      detail,
		CompressedContext: compressed,
	})
}

// =============================================================================
// 🎛️ 控制信号
// =============================================================================

// HandleApprove 批准计划并开始讨论
func (h *ConversationHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, span := telemetry.StartConversationSpan(r.Context(), "roundtable.approve", id)
	defer span.End()

	res, err := h.svc.ApproveAndStart(ctxkeys.WithConversation(ctx, id, ""), id)
	if err != nil {
		span.RecordError(err)
		WriteServiceError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, eventResponse(res))
}

// HandleResume 恢复暂停的会话
func (h *ConversationHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.writeConversation(w, r, "roundtable.resume", id, func(ctx context.Context) (types.Conversation, error) {
		return h.svc.Resume(ctx, id)
	})
}

// HandleStop 停用单个 Agent 或停止整个会话；请求体可省略
func (h *ConversationHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	var req api.StopRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	h.writeConversation(w, r, "roundtable.stop", id, func(ctx context.Context) (types.Conversation, error) {
		return h.svc.Stop(ctx, id, req.AgentID)
	})
}

// HandleComplete 以成功结论结束会话；请求体可省略
func (h *ConversationHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	h.writeConversation(w, r, "roundtable.complete", id, func(ctx context.Context) (types.Conversation, error) {
		return h.svc.Complete(ctx, id, req.Summary)
	})
}

// HandleEditPlan 替换规划阶段的计划文本
func (h *ConversationHandler) HandleEditPlan(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.PlanRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	id := r.PathValue("id")
	h.writeConversation(w, r, "roundtable.edit_plan", id, func(ctx context.Context) (types.Conversation, error) {
		return h.svc.EditPlanningMessage(ctx, id, req.Text)
	})
}

func (h *ConversationHandler) writeConversation(w http.ResponseWriter, r *http.Request, op, id string, fn func(ctx context.Context) (types.Conversation, error)) {
	ctx, span := telemetry.StartConversationSpan(r.Context(), op, id)
	defer span.End()

	conv, err := fn(ctxkeys.WithConversation(ctx, id, ""))
	if err != nil {
		span.RecordError(err)
		WriteServiceError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, conv)
}

// decodeOptional 解码可省略的请求体；写出错误响应时返回 false
func (h *ConversationHandler) decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return true
	}
	if !ValidateContentType(w, r, h.logger) {
		return false
	}
	return DecodeJSONBody(w, r, dst, h.logger) == nil
}
