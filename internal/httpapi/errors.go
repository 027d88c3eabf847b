// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi

import (
	"fmt"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

type errorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

var messages = map[auth.Kind]string{
	auth.KindInvalidCredentials:  "Invalid email or password",
	auth.KindAccountLocked:       "Account locked. Too many login attempts.",
	auth.KindInvalidToken:        "Authentication required",
	auth.KindInvalidResetToken:   "Invalid or expired reset link",
	auth.KindUpstreamUnavailable: "Service temporarily unavailable, try again later",
	auth.KindValidation:          "Invalid request",
	auth.KindInternal:            "Internal server error",
}

// writeError renders err by kind only. Locked responses carry Retry-After;
// validation failures list offending fields.
func (a *API) writeError(c *gin.Context, err error) {
	kind := auth.KindOf(err)
	body := errorBody{Code: string(kind), Message: messages[kind]}

	switch kind {
	case auth.KindAccountLocked:
		if remaining, ok := auth.LockRemaining(err); ok {
			secs := int(math.Ceil(remaining.Seconds()))
			c.Header("Retry-After", strconv.Itoa(secs))
			body.Message = fmt.Sprintf("Account locked. Try again in %d minute(s).", (secs+59)/60)
		}
	case auth.KindValidation:
		body.Fields = validationFields(err)
	}
	c.JSON(kind.HTTPStatus(), body)
}

func validationFields(err error) []string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	fields, _ := oopsErr.Context()["fields"].([]string)
	return fields
}
