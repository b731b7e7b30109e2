package core

import (
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"
)

// CategoryInput is the payload of the new category form.
type CategoryInput struct {
	Name string `validate:"required,min=1,max=50"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the form payload and reports the first failure as a
// FieldError on "name".
func (in CategoryInput) Validate() error {
	err := validatorInstance().Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	first := verrs[0]
	return &FieldError{Field: "name", Message: nameMessage(first.Tag()), Err: err}
}

func nameMessage(tag string) string {
	switch tag {
	case "required", "min":
		return "Category name is required"
	case "max":
		return "Category name must be 50 characters or less"
	default:
		return "Category name is invalid"
	}
}

// DuplicateNameError is returned when a category with the same name exists.
func DuplicateNameError() error {
	return &FieldError{Field: "name", Message: "A category with this name already exists", Err: ErrDuplicate}
}
