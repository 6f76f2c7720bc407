package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{fmt.Errorf("resource r1: %w", ErrNotFound), KindNotFound},
		{ErrContentConflict, KindConflict},
		{ErrQuotaExceeded, KindConflict},
		{ErrTypeMismatch, KindMismatch},
		{ErrIDMismatch, KindMismatch},
		{ErrUnknownResourceType, KindValidation},
		{ErrUnsupportedFormat, KindUnsupportedFormat},
		{fmt.Errorf("wrap: %w", ErrInvalidState), KindInvalidState},
		{errors.New("disk full"), KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}
