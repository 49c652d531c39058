package core

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// SubmitCodeRequest is the intake DTO for a new submission.
type SubmitCodeRequest struct {
	ProblemID int64  `json:"problem_id" validate:"required,gt=0"`
	Language  string `json:"language" validate:"required,oneof=python java nodejs cpp c"`
	Code      string `json:"code" validate:"required,max=10000"`
}

var requestValidator = validator.New()

// ValidateSubmitCodeRequest returns a readable error describing the first
// failing field, or nil when req is well-formed.
func ValidateSubmitCodeRequest(req SubmitCodeRequest) error {
	if err := requestValidator.Struct(req); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed validation: %s", fe.Field(), fe.Tag())
		}
		return err
	}
	return nil
}
