package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
)

// SubjectUserRegistered est publié par le service d'identité.
const SubjectUserRegistered = "identity.user.registered"

type UserRegisteredEvent struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Image    string `json:"image,omitempty"`
}

// UserWriter enregistre les profils affichés à côté des posts et commentaires.
type UserWriter interface {
	UpsertUser(ctx context.Context, a domain.Author) error
}

type IdentityHandler struct {
	users UserWriter
}

func NewIdentityHandler(users UserWriter) *IdentityHandler {
	return &IdentityHandler{users: users}
}

// Listen abonne le handler aux inscriptions.
func (h *IdentityHandler) Listen(nc *nats.Conn) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(SubjectUserRegistered, h.HandleUserRegistered)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", SubjectUserRegistered, err)
	}
	return sub, nil
}

func (h *IdentityHandler) HandleUserRegistered(msg *nats.Msg) {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
	ctx, span := otel.Tracer("feedsync").Start(ctx, "process_user_registered", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var event UserRegisteredEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil || event.UserID == "" {
		if err != nil {
			span.RecordError(err)
		}
		slog.Error("❌ Invalid event format", "subject", msg.Subject, "error", err)
		return
	}

	author := domain.Author{ID: event.UserID, Name: displayName(event), Image: event.Image}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.users.UpsertUser(ctx, author); err != nil {
		span.RecordError(err)
		slog.Error("❌ User profile not stored", "user_id", event.UserID, "error", err)
		return
	}
	slog.Debug("✅ User profile stored", "user_id", event.UserID)
}

// displayName: username, sinon la partie locale de l'email.
func displayName(e UserRegisteredEvent) string {
	if e.Username != "" {
		return e.Username
	}
	name, _, _ := strings.Cut(e.Email, "@")
	return name
}
