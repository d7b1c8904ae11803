package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

// newValidator reports fields by the name the client sent: query, then json, then Go name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"query", "json", "param"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// ReadAndValidateRequest binds req, fills zero fields from `default` tags and validates it.
// It returns nil when the request is usable.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		return bindErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return bindErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		var fes validator.ValidationErrors
		if !errors.As(err, &fes) {
			return bindErrors(err)
		}
		out := make([]ValidationError, 0, len(fes))
		for _, fe := range fes {
			out = append(out, fieldError(fe))
		}
		return out
	}
	return nil
}

func bindErrors(err error) []ValidationError {
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return []ValidationError{{Code: "ERR_BIND", Message: msg}}
}

// rules maps a validator tag to its message template and the name its parameter is reported under.
var rules = map[string]struct {
	format string
	param  string
}{
	"required": {"%s is required", ""},
	"min":      {"%s must be at least %s", "min"},
	"gte":      {"%s must be at least %s", "min"},
	"max":      {"%s must be at most %s", "max"},
	"lte":      {"%s must be at most %s", "max"},
	"gt":       {"%s must be greater than %s", "value"},
	"lt":       {"%s must be less than %s", "value"},
	"oneof":    {"%s must be one of %s", "options"},
}

func fieldError(fe validator.FieldError) ValidationError {
	ve := ValidationError{
		Code:  "ERR_" + strings.ToUpper(fe.Tag()),
		Field: fe.Field(),
	}
	rule, ok := rules[fe.Tag()]
	if !ok {
		ve.Message = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
		return ve
	}
	param := fe.Param()
	if fe.Tag() == "oneof" {
		ve.Params = map[string]interface{}{rule.param: strings.Fields(param)}
		param = strings.Join(strings.Fields(param), ", ")
	} else if rule.param != "" {
		ve.Params = map[string]interface{}{rule.param: param}
	}
	if rule.param == "" {
		ve.Message = fmt.Sprintf(rule.format, fe.Field())
	} else {
		ve.Message = fmt.Sprintf(rule.format, fe.Field(), param)
	}
	return ve
}
