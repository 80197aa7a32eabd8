package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	docerrors "github.com/Aman-CERP/docindex/internal/errors"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeJSON reads r's body into v and validates its struct tags.
// Failures are validation DocErrors with one detail per failing field.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if stderrors.Is(err, io.EOF) {
			return docerrors.ValidationError("request body is empty", nil)
		}
		return docerrors.ValidationError("invalid JSON body", err).WithDetail("parse", err.Error())
	}
	return validateStruct(v)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return docerrors.ValidationError("invalid request", err)
	}

	de := docerrors.ValidationError("request validation failed", err)
	for _, fe := range fieldErrs {
		de = de.WithDetail(strings.ToLower(fe.Field()), fieldMessage(fe))
	}
	return de
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed on '%s'", field, fe.Tag())
	}
}
