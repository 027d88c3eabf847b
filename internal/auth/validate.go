// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
)

// Secret length constraints for newly chosen credentials. Login accepts any
// non-empty secret so that legacy credentials keep working.
const (
	MinSecretLength = 8
	MaxSecretLength = 1024
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type loginInput struct {
	Email  string `validate:"required,email,max=254"`
	Secret string `validate:"required,max=1024"`
}

type emailInput struct {
	Email string `validate:"required,email,max=254"`
}

type resetInput struct {
	Email     string `validate:"required,email,max=254"`
	Token     string `validate:"required,max=256"`
	NewSecret string `validate:"required,min=8,max=1024"`
}

type registerInput struct {
	Email  string `validate:"required,email,max=254"`
	Secret string `validate:"required,min=8,max=1024"`
}

// validateInput runs struct validation and converts failures into
// KindValidation errors naming the offending fields.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return oops.Code(KindValidation.String()).Wrap(errors.Join(ErrValidation, err))
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, strings.ToLower(fe.Field())+":"+fe.Tag())
	}
	return oops.Code(KindValidation.String()).
		With("fields", fields).
		Wrap(ErrValidation)
}

// NormalizeEmail lowercases and trims an email so it can serve as a lookup
// and attempt-tracking key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
