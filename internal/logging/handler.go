package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	SystemIDKey    contextKey = "system_id"
	ClientIDKey    contextKey = "client_id"
	MessageIDKey   contextKey = "msg_id"
	GatewayIDKey   contextKey = "gateway_id"
	ConnIDKey      contextKey = "conn_id"
	VendorMsgIDKey contextKey = "vendor_msg_id"
	CommandIDKey   contextKey = "cmd_id"
	SeqNumberKey   contextKey = "seq_num"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if sysID, ok := ctx.Value(SystemIDKey).(string); ok {
		r.AddAttrs(slog.String("system_id", sysID))
	}
	if clientID, ok := ctx.Value(ClientIDKey).(int64); ok {
		r.AddAttrs(slog.Int64("client_id", clientID))
	}
	if msgID, ok := ctx.Value(MessageIDKey).(int64); ok {
		r.AddAttrs(slog.Int64("msg_id", msgID))
	}
	if gwID, ok := ctx.Value(GatewayIDKey).(int64); ok {
		r.AddAttrs(slog.Int64("gateway_id", gwID))
	}
	if connID, ok := ctx.Value(ConnIDKey).(string); ok {
		r.AddAttrs(slog.String("conn_id", connID))
	}
	if vendorMsgID, ok := ctx.Value(VendorMsgIDKey).(string); ok {
		r.AddAttrs(slog.String("vendor_msg_id", vendorMsgID))
	}
	if cmdID, ok := ctx.Value(CommandIDKey).(string); ok {
		r.AddAttrs(slog.String("cmd_id", cmdID))
	}
	if seq, ok := ctx.Value(SeqNumberKey).(uint32); ok {
		r.AddAttrs(slog.Uint64("seq_num", uint64(seq)))
	}
	return h.Handler.Handle(ctx, r)
}

// Helper functions to add values to context

func ContextWithSystemID(ctx context.Context, systemID string) context.Context {
	return context.WithValue(ctx, SystemIDKey, systemID)
}

func ContextWithClientID(ctx context.Context, clientID int64) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}

func ContextWithMessageID(ctx context.Context, msgID int64) context.Context {
	return context.WithValue(ctx, MessageIDKey, msgID)
}

func ContextWithGatewayID(ctx context.Context, gatewayID int64) context.Context {
	return context.WithValue(ctx, GatewayIDKey, gatewayID)
}

func ContextWithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

func ContextWithVendorMsgID(ctx context.Context, vendorMsgID string) context.Context {
	return context.WithValue(ctx, VendorMsgIDKey, vendorMsgID)
}

func ContextWithPDUInfo(ctx context.Context, commandID string, seqNumber uint32) context.Context {
	ctx = context.WithValue(ctx, CommandIDKey, commandID)
	return context.WithValue(ctx, SeqNumberKey, seqNumber)
}
