package api

import (
	"errors"
	"net/http"

	"github.com/tasknest/tasknest/pkg/billing"
	"github.com/tasknest/tasknest/pkg/boards"
	"github.com/tasknest/tasknest/pkg/httputil"
	"github.com/tasknest/tasknest/pkg/observability"
	"github.com/tasknest/tasknest/pkg/rbac"
)

// writeServiceError maps domain errors to HTTP responses. Unknown errors are
// logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rbac.ErrBoardNotFound),
		errors.Is(err, boards.ErrMemberNotFound),
		errors.Is(err, boards.ErrUserNotFound),
		errors.Is(err, billing.ErrSubscriptionNotFound),
		errors.Is(err, billing.ErrPaymentNotFound):
		httputil.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, rbac.ErrForbidden):
		httputil.WriteError(w, http.StatusForbidden, err)
	case errors.Is(err, billing.ErrAlreadyExists),
		errors.Is(err, billing.ErrSubscriptionCancelled):
		httputil.WriteError(w, http.StatusConflict, err)
	case errors.Is(err, billing.ErrInvalidSignature),
		errors.Is(err, billing.ErrInvalidPayload),
		errors.Is(err, billing.ErrInvalidPlan),
		errors.Is(err, billing.ErrInvalidMemberCount),
		errors.Is(err, billing.ErrNothingToCharge),
		errors.Is(err, boards.ErrInvalidRequest),
		errors.Is(err, boards.ErrOwnerRole),
		errors.Is(err, boards.ErrOwnerMembership):
		httputil.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, billing.ErrGatewayDeclined):
		httputil.WriteError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, billing.ErrGateway):
		observability.FromContext(r.Context()).WithError(err).Warn("payment gateway unavailable")
		httputil.WriteErrorMessage(w, http.StatusBadGateway, "payment gateway unavailable")
	case errors.Is(err, billing.ErrVersionConflict):
		httputil.WriteConflict(w, "subscription was modified concurrently, retry the request")
	default:
		observability.FromContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).Error("request failed")
		httputil.WriteInternalError(w)
	}
}
