// Package validation applies declared request shapes to routes and reports
// every failing field in one 400 response.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"toeicprep/respond"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validatable lets a request type add checks binding tags cannot express.
type Validatable interface {
	Validate() []FieldError
}

const (
	keyBody   = "validation.body"
	keyQuery  = "validation.query"
	keyParams = "validation.params"
)

var setupOnce sync.Once

// setup reports fields by their json, form or uri names instead of Go names.
func setup() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form", "uri"} {
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
	})
}

func JSON[T any]() gin.HandlerFunc {
	return bind[T](keyBody, func(c *gin.Context, v any) error { return c.ShouldBindJSON(v) })
}

func Query[T any]() gin.HandlerFunc {
	return bind[T](keyQuery, func(c *gin.Context, v any) error { return c.ShouldBindQuery(v) })
}

func URI[T any]() gin.HandlerFunc {
	return bind[T](keyParams, func(c *gin.Context, v any) error { return c.ShouldBindUri(v) })
}

func bind[T any](key string, fn func(*gin.Context, any) error) gin.HandlerFunc {
	setup()
	return func(c *gin.Context) {
		v := new(T)
		if err := fn(c, v); err != nil {
			Abort(c, FieldErrors(err))
			return
		}
		if hook, ok := any(v).(Validatable); ok {
			if errs := hook.Validate(); len(errs) > 0 {
				Abort(c, errs)
				return
			}
		}
		c.Set(key, v)
		c.Next()
	}
}

func Body[T any](c *gin.Context) *T   { return get[T](c, keyBody) }
func QueryOf[T any](c *gin.Context) *T { return get[T](c, keyQuery) }
func Params[T any](c *gin.Context) *T  { return get[T](c, keyParams) }

func get[T any](c *gin.Context, key string) *T {
	if v, ok := c.Get(key); ok {
		if t, ok := v.(*T); ok {
			return t
		}
	}
	return new(T)
}

func Abort(c *gin.Context, errs []FieldError) {
	respond.Abort(c, http.StatusBadRequest, "Validation failed", errs)
}

// FieldErrors flattens a binding error into per-field messages.
func FieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, FieldError{Field: fieldPath(fe), Message: message(fe)})
		}
		return out
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return []FieldError{{Field: typeErr.Field, Message: "must be of type " + typeErr.Type.String()}}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return []FieldError{{Field: "body", Message: "must be valid JSON"}}
	}

	return []FieldError{{Field: "request", Message: err.Error()}}
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	name := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "required_without":
		return fmt.Sprintf("%s is required when %s is not provided", name, fe.Param())
	case "email":
		return name + " must be a valid email address"
	case "url", "http_url":
		return name + " must be a valid URL"
	case "uuid", "uuid4":
		return name + " must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s%s", name, fe.Param(), unit(fe))
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s%s", name, fe.Param(), unit(fe))
	case "len":
		return fmt.Sprintf("%s must be exactly %s%s", name, fe.Param(), unit(fe))
	case "dive":
		return name + " contains an invalid item"
	default:
		return fmt.Sprintf("%s is invalid (%s)", name, fe.Tag())
	}
}

func unit(fe validator.FieldError) string {
	switch fe.Kind() {
	case reflect.String:
		return " characters"
	case reflect.Slice, reflect.Array, reflect.Map:
		return " items"
	default:
		return ""
	}
}
