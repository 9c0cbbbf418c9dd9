// channelprobe is a manual client for the chat channel: it walks the
// transport ladder against a running backend, sends one message over
// whichever transport wins, and prints every frame that comes back.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/converso-ai/converso/backend/internal/config"
	"github.com/converso-ai/converso/backend/internal/model/chat"
	"github.com/converso-ai/converso/backend/internal/transport"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] could not load .env, using system environment: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	baseURL := flag.String("base", "http://localhost:8080", "backend base URL")
	userID := flag.String("user", "u-1001", "user id")
	tenantID := flag.String("tenant", "acme", "tenant id")
	text := flag.String("text", "Olá, preciso de ajuda", "message to send")
	wait := flag.Duration("wait", 15*time.Second, "how long to wait for replies")
	flag.Parse()

	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/api/ws"
	candidates := buildCandidates(cfg.Transport.Order, *baseURL, wsURL, *userID, *tenantID)

	probe := transport.NewProbe(candidates, cfg.Transport.ProbeConnectTimeout)
	channel, err := transport.NewFailoverChannel(context.Background(), probe)
	if err != nil {
		log.Fatalf("no transport available: %v", err)
	}
	defer channel.Close()
	log.Printf("connected over %s", channel.Kind())

	frames := make(chan transport.Frame, 16)
	channel.OnMessage(func(frame transport.Frame) {
		frames <- frame
	})

	outbound, err := transport.EncodeFrame("chat", "", chat.InboundEvent{Text: *text})
	if err != nil {
		log.Fatalf("failed to encode message: %v", err)
	}
	if err := channel.Send(outbound); err != nil {
		log.Fatalf("send failed: %v", err)
	}
	log.Printf("sent over %s: %s", channel.Kind(), *text)

	deadline := time.After(*wait)
	for {
		select {
		case frame := <-frames:
			fmt.Printf("<- [%s] %s\n", frame.Type, string(frame.Data))
			if frame.Type == "response" {
				return
			}
		case <-deadline:
			log.Println("no further frames, exiting")
			return
		}
	}
}

func buildCandidates(order []transport.Kind, baseURL, wsURL, userID, tenantID string) []transport.Transport {
	var candidates []transport.Transport
	for _, kind := range order {
		switch kind {
		case transport.KindRealtimePubSub:
			candidates = append(candidates, &transport.PubSubTransport{
				BaseURL: baseURL, UserID: userID, TenantID: tenantID,
			})
		case transport.KindDuplexSocket:
			candidates = append(candidates, &transport.WebSocketTransport{
				URL: wsURL, UserID: userID, TenantID: tenantID,
			})
		case transport.KindHTTPPolling:
			candidates = append(candidates, &transport.PollingTransport{
				BaseURL: baseURL, UserID: userID, TenantID: tenantID,
			})
		}
	}
	return candidates
}
