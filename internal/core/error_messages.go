package core

// error_messages.go maps technical errors to user-facing messages with a
// support code. Known sentinels are matched with errors.Is first; anything
// else falls through to case-insensitive substring patterns, first match wins.
//
//	VAL001  required mapping missing        VAL002  total is not a number
//	VAL003  zero adjustment                 VAL004  unknown column or field
//	VAL005  confirmation required           VAL006  invalid product
//	NF001   SKU not found                   NF002   product not found
//	NF003   organization not found
//	DB001   duplicate key                   DB002   unique constraint
//	DB003   connection refused              DB004   connection reset
//	DB005   timeout                         DB006   deadlock or locked database
//	FILE001 too large    FILE002 empty      FILE003 no file provided
//	IMP001  nothing to import               IMP002  too many imports
//	RPT001  unknown report kind
//	REQ001  request cancelled               REQ002  request deadline exceeded
//	RATE001 rate limited
//	ERR000  fallback; check the logs for the technical error

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

// sentinelMessages is consulted before the pattern table.
var sentinelMessages = []sentinelMessage{
	{ErrNothingToImport, UserMessage{
		Message: "No valid products to import",
		Action:  "Make sure SKU and Name are mapped and filled in",
		Code:    "IMP001",
	}},
	{ErrTooManyImports, UserMessage{
		Message: "Too many imports in progress",
		Action:  "Please wait a moment and try again",
		Code:    "IMP002",
	}},
	{ErrSKUNotFound, UserMessage{
		Message: "No product matches this SKU",
		Action:  "Check the code or add the product to the catalog",
		Code:    "NF001",
	}},
	{ErrProductNotFound, UserMessage{
		Message: "Product not found",
		Action:  "It may have been deleted. Refresh and try again",
		Code:    "NF002",
	}},
	{ErrOrgNotFound, UserMessage{
		Message: "Organization not found",
		Action:  "Verify the organization id",
		Code:    "NF003",
	}},
	{ErrZeroDelta, UserMessage{
		Message: "Adjustment must not be zero",
		Action:  "Enter a positive or negative quantity",
		Code:    "VAL003",
	}},
	{ErrUnknownColumn, UserMessage{
		Message: "Column not found in the uploaded file",
		Action:  "Choose one of the file's column headers",
		Code:    "VAL004",
	}},
	{ErrUnknownField, UserMessage{
		Message: "Unknown product field",
		Action:  "Map columns to sku, name, categoryLevel1-3, price or expectedStock",
		Code:    "VAL004",
	}},
	{ErrConfirmationRequired, UserMessage{
		Message: "This action cannot be undone",
		Action:  "Repeat the request with confirm=true",
		Code:    "VAL005",
	}},
	{ErrInvalidProduct, UserMessage{
		Message: "SKU and Product Name are required",
		Action:  "Fill in both fields",
		Code:    "VAL006",
	}},
	{ErrEmptyUpdate, UserMessage{
		Message: "Nothing to update",
		Action:  "Provide at least one field to change",
		Code:    "VAL006",
	}},
	{ErrFileTooLarge, UserMessage{
		Message: "File exceeds maximum size limit",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	}},
	{ErrEmptyFile, UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a CSV file with a header row",
		Code:    "FILE002",
	}},
	{ErrUnknownReport, UserMessage{
		Message: "Unknown report",
		Action:  "Choose inventory_summary or audit_log",
		Code:    "RPT001",
	}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns covers errors that arrive as text from drivers and the
// standard library. More specific patterns come first.
var errorPatterns = []errorPattern{
	{"missing required mapping", UserMessage{
		Message: "Required columns are not mapped",
		Action:  "Map a column to every field marked with *",
		Code:    "VAL001",
	}},
	{"invalid total", UserMessage{
		Message: "Total must be a whole number",
		Action:  "Enter a number such as 12 or -3",
		Code:    "VAL002",
	}},
	{"duplicate key", UserMessage{
		Message: "A product with this SKU already exists",
		Action:  "Use a different SKU or update the existing product",
		Code:    "DB001",
	}},
	{"unique constraint", UserMessage{
		Message: "This value must be unique but already exists",
		Action:  "Check for duplicate SKUs in your file",
		Code:    "DB002",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB003",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB004",
	}},
	{"context canceled", UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "REQ002",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try again later",
		Code:    "DB005",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB006",
	}},
	{"database is locked", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB006",
	}},
	{"no file provided", UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV file to upload",
		Code:    "FILE003",
	}},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It returns the zero UserMessage for a nil error and ERR000 when nothing matches.
//
//	msg := MapError(fmt.Errorf("scan: %w", ErrSKUNotFound))
//	// msg.Code == "NF001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
