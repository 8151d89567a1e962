package executor

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		// variable names are referenced from templates, so they must be identifiers.
		_ = validate.RegisterValidation("varname", func(fl validator.FieldLevel) bool {
			return identifier.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Decode the node's configuration into out and validate it using
// 'validate' struct tags. Any problem is a ConfigurationError.
func (p Params) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(p.Data); err != nil {
		return noderr.Configf(p.NodeID, "%s node: invalid configuration: %s", p.Type.Label(), err)
	}

	err = validatorInstance().Struct(out)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return noderr.Configf(p.NodeID, "%s node: %s", p.Type.Label(), describe(verrs[0]))
	}
	if err != nil {
		return noderr.Configf(p.NodeID, "%s node: invalid configuration: %s", p.Type.Label(), err)
	}
	return nil
}

// describe turns a validation failure into a readable message.
func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	// drop the struct name, e.g. "Config.extractions[0].key" -> "extractions[0].key"
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return field + " must be greater than " + fe.Param()
	case "min":
		if fe.Kind() == reflect.Slice {
			return field + " must contain at least " + fe.Param() + " item(s)"
		}
		return field + " must be at least " + fe.Param()
	case "oneof":
		return field + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "varname":
		return field + " must start with a letter or underscore and contain only letters, numbers and underscores"
	case "url", "http_url":
		return field + " must be a valid URL"
	}
	return field + " is invalid (" + fe.Tag() + ")"
}

// VariableName returns name, or def if name is empty.
func VariableName(name, def string) string {
	if name == "" {
		return def
	}
	return name
}
