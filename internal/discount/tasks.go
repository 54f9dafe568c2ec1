package discount

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// TypeRedeem is the asynq task type recording one redemption.
const TypeRedeem = "discount:redeem"

// NewRedeemTask builds the task recording red.
func NewRedeemTask(red Redemption) (*asynq.Task, error) {
	payload, err := json.Marshal(red)
	if err != nil {
		return nil, fmt.Errorf("encode redemption: %w", err)
	}
	return asynq.NewTask(TypeRedeem, payload), nil
}

// redeemTaskID makes enqueueing the same redemption twice a no-op.
func redeemTaskID(red Redemption) string {
	return "redeem:" + red.DiscountID.String() + ":" + red.OrderID.String()
}

// HandleRedeemTask records the redemption carried by t. Malformed payloads, unknown rules and
// exhausted caps are not retried.
func (s *Service) HandleRedeemTask(ctx context.Context, t *asynq.Task) error {
	var red Redemption
	if err := json.Unmarshal(t.Payload(), &red); err != nil {
		return fmt.Errorf("decode redemption: %v: %w", err, asynq.SkipRetry)
	}
	log := s.Logger.With().
		Str("discount_id", red.DiscountID.String()).
		Str("order_id", red.OrderID.String()).
		Logger()

	err := s.recordRedemptions(ctx, []Redemption{red})
	switch {
	case err == nil:
		log.Debug().Msg("redemption processed")
		return nil
	case errors.Is(err, ErrUsageLimitReached), errors.Is(err, ErrNotFound):
		log.Warn().Err(err).Msg("redemption dropped")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		log.Error().Err(err).Msg("redemption failed")
		return err
	}
}

// RegisterHandlers mounts the task handlers on mux.
func (s *Service) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRedeem, s.HandleRedeemTask)
}
