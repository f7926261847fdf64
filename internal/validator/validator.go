package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/go-playground/validator/v10"
)

var optionKeyPattern = regexp.MustCompile(`^[A-Z]$`)

// Validator is the main validator instance that combines struct tags with
// content rules for quizzes and workshops
type Validator struct {
	structValidator  *validator.Validate
	contentValidator *ContentValidator
}

// New creates a new centralized validator instance
func New() *Validator {
	structValidator := validator.New()

	// Register all custom validators once
	registerCustomValidators(structValidator)

	return &Validator{
		structValidator:  structValidator,
		contentValidator: NewContentValidator(),
	}
}

// ValidateStruct validates struct tags only
func (v *Validator) ValidateStruct(s interface{}) error {
	if err := v.structValidator.Struct(s); err != nil {
		if errs := ToValidationErrors(err); len(errs) > 0 {
			return errs
		}
		return err
	}
	return nil
}

// Validate performs complete validation (struct tags + content rules for
// workshops)
func (v *Validator) Validate(s interface{}) error {
	if err := v.ValidateStruct(s); err != nil {
		return err
	}

	if w, ok := s.(*models.Workshop); ok {
		if errs := v.contentValidator.ValidateWorkshop(w); len(errs) > 0 {
			return errs
		}
	}

	return nil
}

// Content returns the content validator
func (v *Validator) Content() *ContentValidator {
	return v.contentValidator
}

// registerCustomValidators registers all custom validation functions
func registerCustomValidators(validate *validator.Validate) {
	validate.RegisterValidation("option_key", validateOptionKey)
	validate.RegisterValidation("user_role", validateUserRole)
	validate.RegisterValidation("stars", validateStars)

	// Custom tag name function for better error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func validateOptionKey(fl validator.FieldLevel) bool {
	return optionKeyPattern.MatchString(fl.Field().String())
}

func validateUserRole(fl validator.FieldLevel) bool {
	return models.UserRole(fl.Field().String()).IsValid()
}

func validateStars(fl validator.FieldLevel) bool {
	stars := fl.Field().Int()
	return stars >= 1 && stars <= 5
}
