package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/edutrack/edutrack-backend/internal/grade"
)

// trans is the singleton English translator for validation errors.
var trans ut.Translator

// Setup registers the validator with English translations on Gin's binding
// engine, plus the "grade" tag that checks a symbol against scale.
// Call once during application startup.
func Setup(scale *grade.Scale) error {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return errors.New("unexpected binding validator engine")
	}
	return register(v, scale)
}

func register(v *govalidator.Validate, scale *grade.Scale) error {
	// Use JSON tag name for field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("grade", func(fl govalidator.FieldLevel) bool {
		return scale.Known(fl.Field().String())
	}); err != nil {
		return err
	}

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(v, trans); err != nil {
		return err
	}

	allowed := strings.Join(scale.Symbols(), ", ")
	return v.RegisterTranslation("grade", trans,
		func(ut ut.Translator) error {
			return ut.Add("grade", "{0} must be one of: "+allowed, true)
		},
		func(ut ut.Translator, fe govalidator.FieldError) string {
			msg, _ := ut.T("grade", fe.Field())
			return msg
		})
}

// TranslateErrors takes a binding/validation error and returns a map of
// field path to human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fieldPath(fe)] = fe.Translate(trans)
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// fieldPath drops the top-level struct name so nested errors read
// "subjects[0].grade" rather than "SubmitSemesterRequest.subjects[0].grade".
func fieldPath(fe govalidator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// OnlyTag reports whether err is a validation error in which every failing
// field failed on tag.
func OnlyTag(err error, tag string) bool {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return false
	}
	for _, fe := range ve {
		if fe.Tag() != tag {
			return false
		}
	}
	return true
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
