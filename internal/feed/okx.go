package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// OKXTickers streams the public tickers channel for a fixed set of instruments.
type OKXTickers struct {
	*tickStore
	wsURL   string
	instIDs []string
}

func NewOKXTickers(wsURL string, instIDs []string) *OKXTickers {
	return &OKXTickers{
		tickStore: newTickStore(),
		wsURL:     wsURL,
		instIDs:   instIDs,
	}
}

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxSubscribe struct {
	Op   string   `json:"op"`
	Args []okxArg `json:"args"`
}

type okxMessage struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   okxArg `json:"arg"`
	Data  []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
	} `json:"data"`
}

func (f *OKXTickers) Run(ctx context.Context) error {
	for {
		if err := f.connect(ctx); err != nil {
			slog.Warn("okx ws disconnected", "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			slog.Info("okx ws reconnecting...")
		}
	}
}

func (f *OKXTickers) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sub := okxSubscribe{Op: "subscribe"}
	for _, id := range f.instIDs {
		sub.Args = append(sub.Args, okxArg{Channel: "tickers", InstID: id})
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var m okxMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			continue
		}
		switch m.Event {
		case "error":
			slog.Error("okx ws error", "code", m.Code, "msg", m.Msg)
			continue
		case "subscribe":
			slog.Debug("okx ws subscribed", "inst", m.Arg.InstID)
			continue
		}

		for _, d := range m.Data {
			last, err := decimal.NewFromString(d.Last)
			if err != nil {
				continue
			}
			f.set(d.InstID, last)
		}
	}
}
