package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
)

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	case core.ErrCatDispatch:
		if domErr.Code == core.CodeNoMatchingAdapter {
			return http.StatusNotFound, true
		}
		return http.StatusConflict, true
	case core.ErrCatState:
		return http.StatusConflict, true
	case core.ErrCatProcess:
		if domErr.Code == core.CodeTimeout {
			return http.StatusGatewayTimeout, true
		}
		return http.StatusBadGateway, true
	default:
		return http.StatusInternalServerError, true
	}
}

// respondDomainError maps err onto a status code; errors outside the
// domain taxonomy are internal.
func respondDomainError(w http.ResponseWriter, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		status = http.StatusInternalServerError
	}
	respondError(w, status, err.Error())
}
