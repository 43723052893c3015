package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"game-lobby-backend/internal/gateway"
	"game-lobby-backend/internal/models"
)

// BalanceSynchronizer moves the ledger balance into a provider wallet when a
// session starts and back when it ends.
type BalanceSynchronizer struct {
	store    *RedisService
	gateways *gateway.Registry
	notify   Broadcaster
	logger   *slog.Logger
}

func NewBalanceSynchronizer(store *RedisService, gateways *gateway.Registry, notify Broadcaster, logger *slog.Logger) *BalanceSynchronizer {
	if notify == nil {
		notify = nopBroadcaster{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceSynchronizer{store: store, gateways: gateways, notify: notify, logger: logger}
}

// Deposit pushes the user's whole resting balance into the session's provider
// wallet and returns the amount moved. The reservation is keyed by session id,
// so the same session never funds twice. A zero balance makes no provider call.
//
// A refused deposit releases the reservation. A deposit the provider may have
// applied keeps it and returns the reserved amount with ErrDepositUnconfirmed;
// the caller must then withdraw to learn what the provider holds.
func (b *BalanceSynchronizer) Deposit(ctx context.Context, session *models.GameSession) (int64, error) {
	gw, err := b.gateways.Get(session.Family)
	if err != nil {
		return 0, err
	}

	res, err := b.store.ReserveFunds(ctx, session.UserID, session.ID, session.Family)
	if err != nil {
		return 0, err
	}
	if res.Existing || res.Amount == 0 {
		return res.Amount, nil
	}

	if err := gw.Deposit(ctx, session.UserID, session.Family, res.Amount); err != nil {
		if gateway.Unconfirmed(err) {
			b.logger.Error("provider deposit unconfirmed, keeping reservation",
				"session_id", session.ID, "user_id", session.UserID, "family", session.Family, "amount", res.Amount, "err", err)
			return res.Amount, fmt.Errorf("%w: %w", ErrDepositUnconfirmed, err)
		}
		if errors.Is(err, gateway.ErrInsufficientFunds) {
			err = fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
		}
		if _, relErr := b.store.ReleaseFunds(context.WithoutCancel(ctx), session.UserID, session.ID); relErr != nil {
			b.logger.Error("release reservation after failed deposit",
				"session_id", session.ID, "user_id", session.UserID, "err", relErr)
		}
		b.logger.Error("provider deposit failed",
			"session_id", session.ID, "user_id", session.UserID, "family", session.Family, "amount", res.Amount, "err", err)
		return 0, err
	}

	b.record(ctx, &models.Transaction{
		UserID:        session.UserID,
		Type:          models.TransactionTypeSessionDeposit,
		Amount:        res.Amount,
		BalanceBefore: res.BalanceBefore,
		BalanceAfter:  0,
		GameSessionID: session.ID,
		Family:        session.Family,
		Description:   fmt.Sprintf("Moved %s to %s", models.FormatCurrency(res.Amount), session.Family),
	})
	b.pushBalance(ctx, session.UserID)
	return res.Amount, nil
}

// WithdrawAndReconcile pulls the provider wallet back into the ledger and ends
// the session. owner must hold the session's teardown claim. On a provider
// error nothing is written and the session stays ending.
func (b *BalanceSynchronizer) WithdrawAndReconcile(ctx context.Context, session *models.GameSession, owner string) (gateway.Withdrawal, error) {
	gw, err := b.gateways.Get(session.Family)
	if err != nil {
		return gateway.Withdrawal{}, err
	}

	w, err := gw.Withdraw(ctx, session.UserID, session.Family)
	if err != nil {
		b.logger.Error("provider withdraw failed",
			"session_id", session.ID, "user_id", session.UserID, "family", session.Family, "err", err)
		return gateway.Withdrawal{}, err
	}

	// No launch URL was handed out for an unconfirmed deposit, so nothing was
	// played: the provider holds either the whole deposit or none of it.
	if session.Unconfirmed && w.Amount < session.Deposited {
		b.logger.Warn("unconfirmed deposit never reached the provider",
			"session_id", session.ID, "user_id", session.UserID, "family", session.Family,
			"deposited", session.Deposited, "withdrawn", w.Amount)
		w.Amount = session.Deposited
	}

	// The provider call already happened; the ledger write must not be cut
	// short by the caller going away.
	ctx = context.WithoutCancel(ctx)
	before, after, err := b.store.FinishTeardown(ctx, session, owner, w.Amount)
	if err != nil {
		b.logger.Error("ledger settle failed after withdraw",
			"session_id", session.ID, "user_id", session.UserID, "amount", w.Amount, "err", err)
		return w, err
	}

	b.record(ctx, &models.Transaction{
		UserID:        session.UserID,
		Type:          models.TransactionTypeSessionWithdraw,
		Amount:        w.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		GameSessionID: session.ID,
		Family:        session.Family,
		Description:   fmt.Sprintf("Returned %s from %s", models.FormatCurrency(w.Amount), session.Family),
	})

	if w.HasPlay() {
		play := models.PlayRecord{
			SessionID: session.ID,
			UserID:    session.UserID,
			GameID:    session.GameID,
			Family:    session.Family,
			Bet:       w.Bet,
			Win:       w.Win,
			Deposited: session.Deposited,
			Returned:  w.Amount,
			EndedAt:   models.NowMillis(),
		}
		if err := b.store.PublishPlay(ctx, play); err != nil {
			b.logger.Warn("publish play record", "session_id", session.ID, "err", err)
		}
	}

	b.pushBalance(ctx, session.UserID)
	return w, nil
}

// Recover withdraws a provider wallet that no local session accounts for.
func (b *BalanceSynchronizer) Recover(ctx context.Context, userID int64, family string) (int64, error) {
	gw, err := b.gateways.Get(family)
	if err != nil {
		return 0, err
	}
	w, err := gw.Withdraw(ctx, userID, family)
	if err != nil {
		return 0, err
	}
	if w.Amount == 0 {
		return 0, nil
	}

	ctx = context.WithoutCancel(ctx)
	before, after, err := b.store.CreditWallet(ctx, userID, w.Amount)
	if err != nil {
		b.logger.Error("ledger credit failed after recovery withdraw",
			"user_id", userID, "family", family, "amount", w.Amount, "err", err)
		return 0, err
	}
	b.record(ctx, &models.Transaction{
		UserID:        userID,
		Type:          models.TransactionTypeRecovery,
		Amount:        w.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Family:        family,
		Description:   fmt.Sprintf("Recovered %s from %s", models.FormatCurrency(w.Amount), family),
	})
	b.pushBalance(ctx, userID)
	return w.Amount, nil
}

// RecoverHold withdraws the provider wallet behind a hold whose session row is
// gone and settles the hold with what came back.
func (b *BalanceSynchronizer) RecoverHold(ctx context.Context, wallet *models.Wallet) (int64, error) {
	gw, err := b.gateways.Get(wallet.Family)
	if err != nil {
		return 0, err
	}
	w, err := gw.Withdraw(ctx, wallet.UserID, wallet.Family)
	if err != nil {
		return 0, err
	}

	ctx = context.WithoutCancel(ctx)
	before, after, err := b.store.SettleHold(ctx, wallet.UserID, wallet.Session, w.Amount)
	if errors.Is(err, ErrHoldMoved) {
		// someone else released the hold; what came back is still the user's
		before, after, err = b.store.CreditWallet(ctx, wallet.UserID, w.Amount)
	}
	if err != nil {
		b.logger.Error("ledger settle failed after hold withdraw",
			"user_id", wallet.UserID, "session_id", wallet.Session, "amount", w.Amount, "err", err)
		return 0, err
	}
	b.record(ctx, &models.Transaction{
		UserID:        wallet.UserID,
		Type:          models.TransactionTypeRecovery,
		Amount:        w.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		GameSessionID: wallet.Session,
		Family:        wallet.Family,
		Description:   fmt.Sprintf("Recovered %s held for a lost session", models.FormatCurrency(w.Amount)),
	})
	b.pushBalance(ctx, wallet.UserID)
	return w.Amount, nil
}

func (b *BalanceSynchronizer) record(ctx context.Context, tx *models.Transaction) {
	tx.ID = models.GenerateTransactionID()
	tx.CreatedAt = models.NowMillis()
	if err := b.store.SaveTransaction(ctx, tx); err != nil {
		b.logger.Warn("save transaction", "user_id", tx.UserID, "type", tx.Type, "err", err)
	}
}

func (b *BalanceSynchronizer) pushBalance(ctx context.Context, userID int64) {
	wallet, err := b.store.GetWallet(ctx, userID)
	if err != nil {
		b.logger.Warn("load wallet for push", "user_id", userID, "err", err)
		return
	}
	b.notify.BroadcastBalance(userID, wallet.Response())
}
