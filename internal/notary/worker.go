package notary

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"rectrade-backend/internal/audit"
	"rectrade-backend/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Worker drains the retry queue: it builds the notarization payload for each
// completed transaction, calls the gateway, and records the reference. A
// transaction that keeps failing is left with settlement status pending and
// is picked up again by RequeuePending.
type Worker struct {
	DB          *gorm.DB
	Queue       *Queue
	Gateway     Gateway
	Audit       audit.Recorder
	MaxAttempts int
	Interval    time.Duration
}

func NewWorker(db *gorm.DB, q *Queue, g Gateway, rec audit.Recorder, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Worker{
		DB:          db,
		Queue:       q,
		Gateway:     g,
		Audit:       rec,
		MaxAttempts: maxAttempts,
		Interval:    2 * time.Second,
	}
}

// Run drains the queue until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				processed, err := w.ProcessOne(ctx)
				if err != nil {
					log.Error().Err(err).Msg("notary worker")
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

// payload is the JSON anchored (by digest) on the notary network.
type payload struct {
	TransactionID   string    `json:"transaction_id"`
	BuyerID         string    `json:"buyer_id"`
	SellerID        string    `json:"seller_id"`
	Quantity        int64     `json:"quantity"`
	PricePerUnit    int64     `json:"price_per_unit"`
	TotalAmount     int64     `json:"total_amount"`
	BuyerFee        int64     `json:"buyer_fee"`
	SellerFee       int64     `json:"seller_fee"`
	NotarizationFee int64     `json:"notarization_fee"`
	SettledAt       time.Time `json:"settled_at"`
}

// ProcessOne handles the oldest queued transaction. Returns false when the
// queue is empty.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	it, err := w.Queue.pop(ctx)
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var tx domain.Transaction
	if err := w.DB.WithContext(ctx).Where("tx_id = ?", it.TxID).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Str("tx_id", it.TxID.String()).Msg("queued transaction not found, dropping")
			return true, nil
		}
		return true, err
	}
	if tx.SettlementStatus == domain.SettlementStatusCompleted {
		return true, nil
	}

	body, err := json.Marshal(payload{
		TransactionID:   tx.TxID.String(),
		BuyerID:         tx.BuyerID.String(),
		SellerID:        tx.SellerID.String(),
		Quantity:        tx.Quantity,
		PricePerUnit:    tx.PricePerUnit,
		TotalAmount:     tx.TotalAmount,
		BuyerFee:        tx.BuyerFee,
		SellerFee:       tx.SellerFee,
		NotarizationFee: tx.NotarizationFee,
		SettledAt:       tx.CreatedAt.UTC(),
	})
	if err != nil {
		return true, err
	}

	ref, err := w.Gateway.Notarize(ctx, tx.TxID, body)
	if err != nil {
		it.Attempts++
		if it.Attempts < w.MaxAttempts {
			if pushErr := w.Queue.push(ctx, it); pushErr != nil {
				return true, pushErr
			}
			log.Warn().Err(err).
				Str("tx_id", tx.TxID.String()).
				Int("attempt", it.Attempts).
				Msg("notarization failed, requeued")
			return true, nil
		}
		// Left pending; RequeuePending sweeps it back in later.
		log.Error().Err(err).
			Str("tx_id", tx.TxID.String()).
			Msg("notarization attempts exhausted")
		return true, nil
	}

	if err := w.DB.WithContext(ctx).Model(&domain.Transaction{}).
		Where("tx_id = ?", tx.TxID).
		UpdateColumns(map[string]interface{}{
			"settlement_status": domain.SettlementStatusCompleted,
			"notary_ref":        ref,
			"updated_at":        time.Now(),
		}).Error; err != nil {
		return true, err
	}

	if err := w.Audit.Record(ctx, audit.Entry{
		Actor:      "notary",
		Action:     "transaction.notarized",
		EntityType: "transaction",
		EntityID:   tx.TxID.String(),
		Before:     map[string]string{"settlement_status": domain.SettlementStatusPending},
		After:      map[string]string{"settlement_status": domain.SettlementStatusCompleted, "notary_ref": ref},
	}); err != nil {
		log.Error().Err(err).Str("tx_id", tx.TxID.String()).Msg("audit record failed")
	}
	return true, nil
}

// RequeuePending re-enqueues completed transactions whose notarization has
// been pending longer than olderThan (crash recovery, exhausted retries).
func (w *Worker) RequeuePending(ctx context.Context, olderThan time.Duration) (int, error) {
	var txs []domain.Transaction
	err := w.DB.WithContext(ctx).
		Where("status = ? AND settlement_status = ? AND updated_at < ?",
			domain.TxStatusCompleted, domain.SettlementStatusPending, time.Now().Add(-olderThan)).
		Find(&txs).Error
	if err != nil {
		return 0, err
	}
	for _, tx := range txs {
		if err := w.Queue.Enqueue(ctx, tx.TxID); err != nil {
			return 0, err
		}
	}
	return len(txs), nil
}
