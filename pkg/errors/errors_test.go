package errors_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mlfoundry/foundry-go/pkg/errors"
)

func TestRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "user error is final",
			err:  &errors.API{Message: "bad request", Category: errors.CategoryUser},
			want: false,
		},
		{
			name: "server error retries",
			err:  &errors.API{Message: "overloaded", Category: errors.CategoryServer},
			want: true,
		},
		{
			name: "unknown category retries",
			err:  &errors.API{Message: "???", Category: errors.CategoryUnknown},
			want: true,
		},
		{
			name: "wrapped user error is final",
			err:  fmt.Errorf("submit: %w", &errors.API{Message: "bad", Category: errors.CategoryUser}),
			want: false,
		},
		{
			name: "plain connection error retries",
			err:  fmt.Errorf("connection refused"),
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, errors.Retryable(tc.err))
		})
	}
}

func TestDefaultCategorizer(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CategoryUser, errors.DefaultCategorizer(http.StatusBadRequest))
	assert.Equal(t, errors.CategoryUser, errors.DefaultCategorizer(http.StatusNotFound))
	assert.Equal(t, errors.CategoryServer, errors.DefaultCategorizer(http.StatusRequestTimeout))
	assert.Equal(t, errors.CategoryServer, errors.DefaultCategorizer(http.StatusTooManyRequests))
	assert.Equal(t, errors.CategoryServer, errors.DefaultCategorizer(http.StatusInternalServerError))
	assert.Equal(t, errors.CategoryUnknown, errors.DefaultCategorizer(http.StatusFound))
}

func TestParseCategory(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CategoryUser, errors.ParseCategory("user"))
	assert.Equal(t, errors.CategoryServer, errors.ParseCategory("server"))
	assert.Equal(t, errors.CategoryUnknown, errors.ParseCategory("weird"))
	assert.Equal(t, errors.CategoryUnknown, errors.ParseCategory(""))
}

func TestAPIErrorMessage(t *testing.T) {
	t.Parallel()

	err := &errors.API{Message: "invalid tensor shape", Category: errors.CategoryUser}
	assert.Equal(t, "user: invalid tensor shape", err.Error())

	bare := &errors.API{Message: "boom"}
	assert.Equal(t, "boom", bare.Error())
}
