package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("machine 42: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("bad threshold: %w", ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("username taken: %w", ErrConflict), http.StatusConflict},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), "err=%v", tc.err)
	}
}

func TestNewPage(t *testing.T) {
	req := PageRequest{Page: 1, Size: 10}.Normalize()
	p := NewPage([]int{1, 2, 3}, req, 23)

	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, int64(23), p.TotalItems)
	assert.Len(t, p.Items, 3)

	empty := NewPage[int](nil, req, 0)
	assert.NotNil(t, empty.Items)
	assert.Equal(t, 0, empty.TotalPages)
}

func TestPageRequestNormalize(t *testing.T) {
	r := PageRequest{Page: -2, Size: 0}.Normalize()
	assert.Equal(t, 0, r.Page)
	assert.Equal(t, DefaultPageSize, r.Size)

	r = PageRequest{Page: 3, Size: 10_000}.Normalize()
	assert.Equal(t, MaxPageSize, r.Size)
	assert.Equal(t, 3*MaxPageSize, r.Offset())
}
