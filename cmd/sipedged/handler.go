package main

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ghettovoice/sipedge/sip"
)

// handler answers inbound requests statelessly.
type handler struct {
	stackID string
	prep    *sip.PreprocessOptions
	app     *sip.AppConfig
	log     *slog.Logger

	tp atomic.Pointer[sip.UDPTransport]
	wg sync.WaitGroup
}

// SubmitRequest is called from the transport event loop, so the answer is sent from another goroutine.
func (h *handler) SubmitRequest(ctx context.Context, in *sip.InboundRequest) {
	h.wg.Go(func() { h.answer(context.WithoutCancel(ctx), in) })
}

func (h *handler) SubmitResponse(ctx context.Context, res *sip.InboundResponse) {
	h.log.LogAttrs(ctx, slog.LevelDebug, "discard response, no client transactions", slog.Any("response", res))
}

func (h *handler) answer(ctx context.Context, in *sip.InboundRequest) {
	tp := h.tp.Load()
	if tp == nil {
		return
	}

	in, ownAck := sip.Preprocess(in, h.stackID, h.prep)
	if ownAck || in.Method() == "ACK" {
		h.log.LogAttrs(ctx, slog.LevelDebug, "absorb ACK", slog.Any("request", in))
		return
	}

	code := 501
	var opts []sip.ResponseOption
	switch in.Method() {
	case "OPTIONS":
		code = 200
		opts = append(opts, sip.WithAllow(), sip.WithAccept(), sip.WithSupported())
	case "INVITE", "SUBSCRIBE", "REFER":
		opts = append(opts, sip.WithContact("<sip:"+tp.LocalAddr().String()+">"))
	}

	res, _, err := sip.BuildResponse(in, code, nil, h.app, opts...)
	if err != nil {
		h.log.LogAttrs(ctx, slog.LevelWarn, "failed to build response", slog.Any("request", in), slog.Any("error", err))
		return
	}

	if err := tp.Send(ctx, in.Transport().RemoteAddr, res); err != nil {
		h.log.LogAttrs(ctx, slog.LevelWarn, "failed to send response",
			slog.Any("request", in),
			slog.Int("status", code),
			slog.Any("error", err),
		)
	}
}
