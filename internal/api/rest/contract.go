package rest

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
)

// contractValidator rejects requests that do not match the published
// OpenAPI document before they reach a handler.
type contractValidator struct {
	router routers.Router
	logger *zap.Logger
}

func newContractValidator(spec []byte, logger *zap.Logger) (*contractValidator, error) {
	loader := &openapi3.Loader{Context: context.Background(), IsExternalRefsAllowed: true}
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("openapi document is invalid: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build contract router: %w", err)
	}
	return &contractValidator{router: router, logger: logger}, nil
}

// middleware validates each request against the contract. Requests the
// document does not describe pass through so the mux can answer 404 or 405
// itself.
func (v *contractValidator) middleware() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				if stderrors.Is(err, routers.ErrPathNotFound) || stderrors.Is(err, routers.ErrMethodNotAllowed) {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, r, v.logger, errors.NewValidationError("CONTRACT_ROUTE", err.Error()))
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				writeError(w, r, v.logger, contractViolation(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// contractViolation folds kin-openapi's error types into a validation error
// clients can act on.
func contractViolation(err error) error {
	var reqErr *openapi3filter.RequestError
	if stderrors.As(err, &reqErr) {
		msg := reqErr.Reason
		if msg == "" {
			msg = reqErr.Error()
		}
		appErr := errors.NewValidationError("CONTRACT_VIOLATION", msg)
		if reqErr.Parameter != nil {
			return appErr.WithDetails(map[string]interface{}{"parameter": reqErr.Parameter.Name})
		}
		return appErr
	}

	var secErr *openapi3filter.SecurityRequirementsError
	if stderrors.As(err, &secErr) {
		return errors.NewUnauthorizedError("request does not satisfy the security requirements")
	}

	return errors.NewValidationError("CONTRACT_VIOLATION", err.Error())
}
