package httpapi

import (
	"context"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/logger"
	"github.com/flowcast/forecaster/internal/persistence"
	"github.com/flowcast/forecaster/internal/tasks"
)

// BuildTaskHandlers wires every Task Runner kind to its handler. It takes
// db and lg directly, rather than a *Server, because the Task Runner must
// be fully constructed (handlers included) before the Server that holds
// it can be built.
func BuildTaskHandlers(db *persistence.DB, lg *logger.Logger) map[string]tasks.Handler {
	return map[string]tasks.Handler{
		simulateKind: simulateHandler,

		kindMeetDeadline: func(ctx context.Context, payload any, report tasks.Reporter) (any, error) {
			p, ok := payload.(meetDeadlinePayload)
			if !ok {
				return nil, apperr.New(apperr.InternalError, "forecast_meet_deadline task payload was malformed")
			}
			return runMeetDeadline(ctx, db, lg, p, report)
		},
		kindHowMany: func(ctx context.Context, payload any, report tasks.Reporter) (any, error) {
			p, ok := payload.(howManyPayload)
			if !ok {
				return nil, apperr.New(apperr.InternalError, "forecast_how_many task payload was malformed")
			}
			return runHowMany(ctx, db, lg, p, report)
		},
		kindWhen: func(ctx context.Context, payload any, report tasks.Reporter) (any, error) {
			p, ok := payload.(whenPayload)
			if !ok {
				return nil, apperr.New(apperr.InternalError, "forecast_when task payload was malformed")
			}
			return runWhen(ctx, db, lg, p, report)
		},

		kindPortfolioSimulate: func(ctx context.Context, payload any, report tasks.Reporter) (any, error) {
			p, ok := payload.(portfolioSimulatePayload)
			if !ok {
				return nil, apperr.New(apperr.InternalError, "portfolio_simulate task payload was malformed")
			}
			return runPortfolioSimulate(ctx, db, lg, p, report)
		},
		kindSelectionOptimize: func(ctx context.Context, payload any, report tasks.Reporter) (any, error) {
			p, ok := payload.(optimizePayload)
			if !ok {
				return nil, apperr.New(apperr.InternalError, "selection_optimize task payload was malformed")
			}
			return runSelectionOptimize(ctx, p, report)
		},
	}
}
