// Package errors provides the coded, structured error type used across
// the engine's components, built on github.com/samber/oops. Every error
// carries a dotted Code identifying what failed and a set of key/value
// fields for diagnostics; callers classify errors by code rather than by
// string-matching messages.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreDatabaseFailure        Code = "store.database.failure"
	CodeStoreBusy                   Code = "store.busy"
	CodeStoreVectorExtensionMissing Code = "store.vector_extension.missing"
	CodeStoreDocumentNotFound       Code = "store.document.not_found"
	CodeStoreCollectionNotFound     Code = "store.collection.not_found"
	CodeStoreInvalidInput           Code = "store.invalid_input"

	CodeIndexerIOFailure      Code = "indexer.walk.io_failure"
	CodeIndexerParseInvalid   Code = "indexer.frontmatter.invalid"
	CodeIndexerPathEscape     Code = "indexer.path.escape"

	CodeSearcherQueryInvalid Code = "searcher.query.invalid_input"
	CodeSearcherRerankFailure Code = "searcher.rerank.failure"

	CodeEmbedderModelUnavailable   Code = "embedder.model.unavailable"
	CodeEmbedderLoadTimeout        Code = "embedder.load.timeout"
	CodeEmbedderContextUnavailable Code = "embedder.context.unavailable"
	CodeEmbedderDimensionMismatch  Code = "embedder.dimension.mismatch"
	CodeEmbedderUpstreamFailure    Code = "embedder.upstream.failure"

	CodeWatcherSetupFailure Code = "watcher.setup.failure"

	CodeCollectionsPathMissing Code = "collections.path.missing"
	CodeCollectionsConflict    Code = "collections.name.conflict"
	CodeCollectionsNotFound    Code = "collections.not_found"

	CodeMemoirInvalidKey         Code = "memoir.key.invalid"
	CodeMemoirPathEscape         Code = "memoir.path.escape"
	CodeMemoirZoneDepthExceeded  Code = "memoir.zone.depth_exceeded"
	CodeMemoirZoneQuotaExceeded  Code = "memoir.zone.quota_exceeded"
	CodeMemoirNotFound           Code = "memoir.key.not_found"

	CodeEngineNotInitialized Code = "engine.lifecycle.not_initialized"
	CodeEngineCloseFailure   Code = "engine.lifecycle.close_failure"
	CodeEngineInternal       Code = "engine.internal.failure"

	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
)

// Attr is a structured key/value field attached to an error.
type Attr struct {
	Key   string
	Value any
}

// FieldValue creates a structured error field.
func FieldValue(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// Field is the primary helper for terse call sites.
func Field(key string, value any) Attr {
	return FieldValue(key, value)
}

func FieldDocumentID(value string) Attr   { return Field("document_id", value) }
func FieldCollection(value string) Attr   { return Field("collection", value) }
func FieldKey(value string) Attr          { return Field("key", value) }
func FieldZone(value string) Attr         { return Field("zone", value) }
func FieldPath(value string) Attr         { return Field("path", value) }
func FieldModel(value string) Attr        { return Field("model", value) }

// New creates a new coded error.
func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(string(code)).With(flatten(fields)...).New(msg)
}

// Errorf creates a new coded error with a formatted message.
func Errorf(code Code, format string, args ...any) error {
	return oops.Code(string(code)).Errorf(format, args...)
}

// Wrap wraps err with a code and message. Returns nil if err is nil.
func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(string(code)).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

// Wrapf wraps err with a code and a formatted message. Returns nil if err is nil.
func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(string(code)).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain, preserving its code.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}
	code := CodeOf(err)
	if code == "" {
		code = CodeEngineInternal
	}
	return oops.Code(string(code)).With(flatten(fields)...).Wrap(err)
}

// CodeOf extracts the Code from an error, or "" if it has none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}
	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}
	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

// FieldsOf extracts the structured context fields from an error.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "escape" || r == "invalid_key"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsQuotaExceeded(err error) bool {
	return reason(CodeOf(err)) == "quota_exceeded" || reason(CodeOf(err)) == "depth_exceeded"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func IsUnavailable(err error) bool {
	return reason(CodeOf(err)) == "unavailable" || reason(CodeOf(err)) == "missing"
}

// HTTPStatus maps an error's code to a conventional HTTP status, for
// callers embedding the engine behind an HTTP surface of their own.
func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsQuotaExceeded(err):
		return http.StatusTooManyRequests
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Join combines multiple errors into one coded error.
func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(string(CodeEngineInternal)).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
