package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarksSurviveWrapping(t *testing.T) {
	base := New("429 too many requests")
	err := Wrap(Transient(base), "batch 3")
	err = fmt.Errorf("orchestrate: %w", err)

	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanent(err))
	assert.Equal(t, "transient", Reason(err))
}

func TestPermanent(t *testing.T) {
	err := Permanent(New("400 bad request"))
	assert.True(t, IsPermanent(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, "permanent", Reason(err))
}

func TestNilHelpers(t *testing.T) {
	assert.Nil(t, Transient(nil))
	assert.Nil(t, Permanent(nil))
	assert.False(t, IsTransient(nil))
	assert.Equal(t, "", Reason(nil))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "canceled", Reason(Wrap(context.Canceled, "submit")))
	assert.Equal(t, "delivery", Reason(Mark(New("disk full"), ErrDelivery)))
	assert.Equal(t, "cache", Reason(Mark(New("redis down"), ErrCacheUnavailable)))
	assert.Equal(t, "schema", Reason(Mark(New("no id"), ErrSchemaValidation)))
	assert.Equal(t, "other", Reason(New("boom")))
}
