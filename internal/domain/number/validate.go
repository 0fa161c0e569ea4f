package number

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
)

// validate is shared by every request type; the validator caches struct
// metadata internally, so one instance serves all of them. Violations
// report json field names so error codes match the wire form callers sent.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkTags evaluates the validate struct tags on a normalized request and
// converts the first violation to the gateway's validation error shape.
// Requests must be normalized before this runs; tags see the final values.
func checkTags(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var violations validator.ValidationErrors
	if !stderrors.As(err, &violations) || len(violations) == 0 {
		return errors.NewInternalError("request validation failed").WithCause(err)
	}

	first := violations[0]
	constraint := first.Tag()
	if first.Param() != "" {
		constraint += "=" + first.Param()
	}

	code := "INVALID_" + strings.ToUpper(first.Field())
	return errors.NewValidationError(code,
		fmt.Sprintf("%s failed the %s constraint", first.Field(), constraint),
	).WithDetails(map[string]interface{}{
		"field":      first.Namespace(),
		"constraint": constraint,
	})
}
