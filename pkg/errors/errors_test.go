package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAndCodeOf(t *testing.T) {
	err := New(CodeMemoirInvalidKey, "bad key", FieldKey("..bad"))
	assert.Error(t, err)
	assert.Equal(t, CodeMemoirInvalidKey, CodeOf(err))
	assert.Equal(t, "..bad", FieldsOf(err)["key"])
}

func TestWrapPreservesNilAndCode(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeStoreBusy, "should stay nil"))

	base := errors.New("disk full")
	wrapped := Wrap(base, CodeStoreDatabaseFailure, "upsert failed", FieldDocumentID("abc123"))
	assert.Error(t, wrapped)
	assert.True(t, HasCode(wrapped, CodeStoreDatabaseFailure))
	assert.ErrorIs(t, wrapped, base)
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsNotFound(New(CodeStoreDocumentNotFound, "missing")))
	assert.True(t, IsNotFound(New(CodeMemoirNotFound, "missing")))
	assert.True(t, IsConflict(New(CodeCollectionsConflict, "dup")))
	assert.True(t, IsInvalidInput(New(CodeMemoirInvalidKey, "bad")))
	assert.True(t, IsInvalidInput(New(CodeMemoirPathEscape, "escape")))
	assert.True(t, IsTimeout(New(CodeEmbedderLoadTimeout, "slow")))
	assert.True(t, IsQuotaExceeded(New(CodeMemoirZoneQuotaExceeded, "full")))
	assert.True(t, IsQuotaExceeded(New(CodeMemoirZoneDepthExceeded, "deep")))
	assert.True(t, IsUpstreamFailure(New(CodeEmbedderUpstreamFailure, "down")))
	assert.True(t, IsUnavailable(New(CodeEmbedderModelUnavailable, "no model")))
	assert.True(t, IsUnavailable(New(CodeStoreVectorExtensionMissing, "no vec0")))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{New(CodeStoreDocumentNotFound, "x"), http.StatusNotFound},
		{New(CodeCollectionsConflict, "x"), http.StatusConflict},
		{New(CodeMemoirInvalidKey, "x"), http.StatusBadRequest},
		{New(CodeMemoirZoneQuotaExceeded, "x"), http.StatusTooManyRequests},
		{New(CodeEmbedderLoadTimeout, "x"), http.StatusGatewayTimeout},
		{New(CodeEmbedderUpstreamFailure, "x"), http.StatusBadGateway},
		{New(CodeStoreVectorExtensionMissing, "x"), http.StatusServiceUnavailable},
		{New(CodeEngineInternal, "x"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HTTPStatus(c.err))
	}
}

func TestWithAddsFieldsKeepsCode(t *testing.T) {
	err := New(CodeMemoirZoneQuotaExceeded, "full", FieldZone("projects"))
	err = With(err, FieldKey("projects.alpha.note1"))
	assert.True(t, HasCode(err, CodeMemoirZoneQuotaExceeded))
	fields := FieldsOf(err)
	assert.Equal(t, "projects", fields["zone"])
	assert.Equal(t, "projects.alpha.note1", fields["key"])
}

func TestJoin(t *testing.T) {
	assert.Nil(t, Join())
	err := Join(errors.New("a"), errors.New("b"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
}
