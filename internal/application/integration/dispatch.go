package integration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskstream/integration-hub/internal/domain/integration"
	"github.com/taskstream/integration-hub/internal/infrastructure/logger"
	"github.com/taskstream/integration-hub/internal/infrastructure/telemetry"
)

// Send delivers payload through sender inside a service span.
func Send[P any](ctx context.Context, name string, sender integration.Sender[P], payload P) (integration.Receipt, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "hub", "send",
		telemetry.WithAttribute(telemetry.SpanAttrIntegration, name),
	)
	defer span.End()

	ctx = logger.WithIntegration(ctx, name)
	log := logger.L(ctx)

	var (
		receipt integration.Receipt
		err     error
	)
	telemetry.WithProfilingLabels(ctx, telemetry.IntegrationLabels(name, "send"), func(ctx context.Context) {
		receipt, err = sender.Send(ctx, payload)
	})
	if err != nil {
		kind := integration.Classify(err)
		telemetry.SetAttribute(span, telemetry.SpanAttrErrorKind, kind.String())
		telemetry.RecordError(span, err)
		log.Warn("Integration send failed",
			zap.String("error_kind", kind.String()),
			zap.Error(err),
		)
		return receipt, err
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrReference, receipt.Reference,
		telemetry.SpanAttrAttempts, receipt.Attempts,
	)
	telemetry.SetOK(span)
	log.Info("Integration send succeeded",
		zap.String("reference", receipt.Reference),
		zap.Int("attempts", receipt.Attempts),
	)
	return receipt, nil
}

// Dispatch looks up name in the hub and sends payload if the integration accepts P.
func Dispatch[P any](ctx context.Context, h *Hub, name string, payload P) (integration.Receipt, error) {
	r, err := h.Get(name)
	if err != nil {
		return integration.Receipt{}, err
	}
	sender, ok := r.(integration.Sender[P])
	if !ok {
		return integration.Receipt{}, fmt.Errorf("integration %s does not accept %T payloads", name, payload)
	}
	return Send(ctx, name, sender, payload)
}
