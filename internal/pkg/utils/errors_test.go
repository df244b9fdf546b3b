package utils

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrValidation_Error(t *testing.T) {
	assert.Equal(t, "validation error: olia", NewErrValidation(errors.New("olia")).Error())
}

func TestErrValidation_Unwrap(t *testing.T) {
	assert.True(t, errors.Is(NewErrValidation(io.EOF), io.EOF))
}
