package handler

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/relister/backend/internal/domain/job"
)

// Custom binding validations shared by the request DTOs in this package.
// Registered once against gin's validator engine at init time.
func init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("actionkind", validActionKind)
}

// validActionKind accepts only known job kinds. Kind validity is re-checked
// in the domain layer; failing here just gives the caller a 400 instead of
// a 422.
func validActionKind(fl validator.FieldLevel) bool {
	return job.Kind(fl.Field().String()).IsValid()
}
