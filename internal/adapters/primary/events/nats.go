package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/ports"
)

// NatsSource implémente ports.ChangeSource au-dessus de NATS core.
// Souscriptions éphémères: rien n'est rejoué après une reconnexion.
type NatsSource struct {
	nc *nats.Conn
}

var _ ports.ChangeSource = (*NatsSource)(nil)

func NewNatsSource(nc *nats.Conn) *NatsSource {
	return &NatsSource{nc: nc}
}

// Subscribe: NATS appelle le handler d'une souscription depuis une seule goroutine,
// l'ordre de livraison est donc celui de réception.
func (s *NatsSource) Subscribe(ctx context.Context, sub domain.Subscription, deliver func(domain.ChangeEvent)) (ports.Unsubscribe, error) {
	subject, err := SubscriptionSubject(sub)
	if err != nil {
		return nil, err
	}

	ns, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		handleMessage(sub, msg, deliver)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	slog.Debug("👂 Subscribed", "subject", subject)

	unsubscribe := func() error {
		err := ns.Unsubscribe()
		if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
			return nil
		}
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = unsubscribe() })

	return func() error {
		stop()
		return unsubscribe()
	}, nil
}

func handleMessage(sub domain.Subscription, msg *nats.Msg, deliver func(domain.ChangeEvent)) {
	// 🟢 Le contexte de trace du producteur voyage dans les headers NATS
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))

	tracer := otel.Tracer("feedsync")
	_, span := tracer.Start(ctx, "consume_change_event",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Subject),
			attribute.String("feed.source", string(sub.Source)),
		))
	defer span.End()

	ev, err := Decode(sub.Source, msg.Data)
	if err != nil {
		span.RecordError(err)
		slog.Error("❌ Invalid event format", "subject", msg.Subject, "error", err)
		return
	}
	if !sub.Matches(ev) {
		return
	}

	span.SetAttributes(attribute.String("feed.kind", string(ev.Kind)))
	deliver(ev)
}
