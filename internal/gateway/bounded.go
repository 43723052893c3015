package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("game-lobby-backend/gateway")

// Bounded applies a timeout to every call of the wrapped Gateway and reports
// any failure, expiry included, as *Error.
type Bounded struct {
	family  string
	next    Gateway
	timeout time.Duration
}

func NewBounded(family string, next Gateway, timeout time.Duration) *Bounded {
	return &Bounded{family: family, next: next, timeout: timeout}
}

func (b *Bounded) LaunchURL(ctx context.Context, userID int64, gameCode string) (Launch, error) {
	var out Launch
	err := b.call(ctx, "launch_url", userID, func(ctx context.Context) error {
		var err error
		out, err = b.next.LaunchURL(ctx, userID, gameCode)
		return err
	})
	return out, err
}

func (b *Bounded) Deposit(ctx context.Context, userID int64, family string, amount int64) error {
	return b.call(ctx, "deposit", userID, func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("amount", amount))
		return b.next.Deposit(ctx, userID, family, amount)
	})
}

func (b *Bounded) Withdraw(ctx context.Context, userID int64, family string) (Withdrawal, error) {
	var out Withdrawal
	err := b.call(ctx, "withdraw", userID, func(ctx context.Context) error {
		var err error
		out, err = b.next.Withdraw(ctx, userID, family)
		return err
	})
	return out, err
}

func (b *Bounded) ActiveSession(ctx context.Context, userID int64) (ActiveSession, error) {
	var out ActiveSession
	err := b.call(ctx, "active_session", userID, func(ctx context.Context) error {
		var err error
		out, err = b.next.ActiveSession(ctx, userID)
		return err
	})
	return out, err
}

func (b *Bounded) call(ctx context.Context, op string, userID int64, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "gateway."+op, trace.WithAttributes(
		attribute.String("family", b.family),
		attribute.Int64("user_id", userID),
	))
	defer span.End()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return &Error{Op: op, Family: b.family, Err: err}
}
