// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// inputValidate is shared by all classifiers. Initialized in init() with the
// custom "finite" rule and JSON field naming.
var inputValidate *validator.Validate

func init() {
	inputValidate = validator.New()
	inputValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = inputValidate.RegisterValidation("finite", validateFinite)
}

// validateFinite rejects NaN and infinities.
func validateFinite(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Float32, reflect.Float64:
		v := fl.Field().Float()
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	default:
		return true
	}
}

// validateInput checks in against the struct rules and the point limit.
//
// Outputs:
//
//	error - nil, or ErrInvalidInput wrapped with a human-readable reason for
//	        the first failing rule.
func validateInput(in *Input, maxPoints int) error {
	if in == nil {
		return fmt.Errorf("%w: missing input", ErrInvalidInput)
	}
	if len(in.Points) == 0 {
		return fmt.Errorf("%w: path has no points", ErrInvalidInput)
	}
	if maxPoints > 0 && len(in.Points) > maxPoints {
		return fmt.Errorf("%w: path has %d points, maximum is %d", ErrInvalidInput, len(in.Points), maxPoints)
	}
	if err := inputValidate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidInput, describe(verrs[0]))
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// describe turns a validator failure into a reason string that names the
// JSON path of the offending field.
func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "finite":
		return field + " must be a finite number"
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s exceeds maximum length %s", field, fe.Param())
	case "iscolor":
		return field + " must be a valid color"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
