// Package main is a terminal chat client driving one session.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/calmline-ai/counsel-chat/internal/config"
	"github.com/calmline-ai/counsel-chat/internal/history"
	"github.com/calmline-ai/counsel-chat/internal/livechan"
	"github.com/calmline-ai/counsel-chat/internal/middleware"
	"github.com/calmline-ai/counsel-chat/internal/model"
	natsclient "github.com/calmline-ai/counsel-chat/internal/nats"
	"github.com/calmline-ai/counsel-chat/internal/responder"
	"github.com/calmline-ai/counsel-chat/internal/session"
	"github.com/calmline-ai/counsel-chat/pkg/logger"
)

func main() {
	var (
		conversationID = flag.String("conversation", "", "conversation ID (generated when empty)")
		role           = flag.String("role", "user", "viewer role: user or counselor")
		name           = flag.String("name", "", "display name")
		userID         = flag.String("id", "", "participant ID (generated when empty)")
	)
	flag.Parse()

	cfg := config.Load()
	log, err := logger.New("warn")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	viewer, err := buildIdentity(*userID, *name, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	convID := *conversationID
	if convID == "" {
		convID = uuid.New().String()
	}

	token, err := mintToken(cfg.JWTSecret, viewer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to mint token: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	nc, err := natsclient.Connect(ctx, natsclient.Config{
		URL:   cfg.NATSURL,
		Token: cfg.NATSToken,
	}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to NATS: %v\n", err)
		os.Exit(1)
	}
	defer nc.Close()

	channel, err := livechan.NewNATSChannel(ctx, nc, viewer, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create live channel: %v\n", err)
		os.Exit(1)
	}

	store := history.NewClient(cfg.HistoryURL, token)
	gateway := responder.NewHTTPGateway(cfg.ResponderURL, token, cfg.GenerationTimeout)

	// Ensure the conversation exists; creating an existing one is idempotent.
	if _, err := store.CreateConversation(ctx, &model.CreateConversationRequest{
		ConversationID: convID,
		Members:        []string{viewer.ID},
	}); err != nil && !errors.Is(err, history.ErrConflict) {
		fmt.Fprintf(os.Stderr, "failed to create conversation: %v\n", err)
		os.Exit(1)
	}

	printer := newTranscriptPrinter(os.Stdout)
	hooks := session.Hooks{
		OnUpdate:  printer.Render,
		OnMembers: printer.Members,
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "!! %v\n", err)
		},
	}

	sess := session.New(viewer, convID, store, channel, gateway, hooks, log)
	if err := sess.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to open session: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Joined conversation %s as %s (%s). Type /leave to exit.\n", convID, viewer.DisplayName, viewer.Role)
	printer.Render(sess.Messages())

	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimRight(line, "\n")

		if strings.TrimSpace(line) == "/leave" {
			break
		}
		if err := sess.Submit(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "!! %v\n", err)
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil && !errors.Is(err, session.ErrClosed) {
		fmt.Fprintf(os.Stderr, "!! leave failed: %v\n", err)
	}
	fmt.Println("Left conversation.")
}

func buildIdentity(id, name, role string) (model.Identity, error) {
	var authorRole model.AuthorRole
	switch role {
	case "user":
		authorRole = model.RoleUser
	case "counselor":
		authorRole = model.RoleCounselor
	default:
		return model.Identity{}, fmt.Errorf("invalid role %q: want user or counselor", role)
	}

	if id == "" {
		id = uuid.New().String()
	}
	if name == "" {
		name = "Anonymous"
		if authorRole == model.RoleCounselor {
			name = "Counselor"
		}
	}

	return model.Identity{ID: id, DisplayName: name, Role: authorRole}, nil
}

func mintToken(secret string, viewer model.Identity) (string, error) {
	claims := &middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   viewer.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
		DisplayName: viewer.DisplayName,
		Role:        string(viewer.Role),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
