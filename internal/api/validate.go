package api

import (
	"errors"
	"path"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"ventpipe/internal/capability"
)

var submissionIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// ValidationRule registers one custom tag on the validator.
type ValidationRule struct {
	Rule func(v *validator.Validate)
}

// Validator wraps go-playground/validator with the intake rules.
type Validator struct {
	validator *validator.Validate
}

// NewValidator returns a validator with the submission rules registered.
// allowPassthrough controls whether the "none" preset is accepted.
func NewValidator(allowPassthrough bool) *Validator {
	v := &Validator{validator: validator.New()}
	v.validator.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.Register(SubmissionValidationRules(allowPassthrough)...)
	return v
}

// Register installs additional rules.
func (v *Validator) Register(rules ...ValidationRule) {
	for _, rule := range rules {
		rule.Rule(v.validator)
	}
}

// Struct validates s and returns a *FieldErrors describing every failed field.
func (v *Validator) Struct(s any) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
	return &FieldErrors{Fields: fields}
}

// FieldErrors reports request fields that failed validation.
type FieldErrors struct {
	Fields map[string]string
}

func (e *FieldErrors) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// SubmissionValidationRules returns the custom tags used by SubmitRequest.
func SubmissionValidationRules(allowPassthrough bool) []ValidationRule {
	return []ValidationRule{
		{Rule: registerFn("submission_id", submissionIDValidator)},
		{Rule: registerFn("audio_key", audioKeyValidator)},
		{Rule: registerFn("preset", func(fl validator.FieldLevel) bool {
			_, err := capability.LookupPreset(fl.Field().String(), allowPassthrough)
			return err == nil
		})},
	}
}

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

func submissionIDValidator(fl validator.FieldLevel) bool {
	return submissionIDRegex.MatchString(fl.Field().String())
}

func audioKeyValidator(fl validator.FieldLevel) bool {
	key := strings.TrimSpace(fl.Field().String())
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return false
	}
	cleaned := path.Clean(key)
	return cleaned == key && !strings.HasPrefix(cleaned, "../") && cleaned != ".."
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "submission_id":
		return "may only contain letters, digits, '.', '_', ':' and '-'"
	case "audio_key":
		return "must be a relative key without '..' segments"
	case "preset":
		return "unknown or disabled preset"
	default:
		return "failed " + fe.Tag()
	}
}
