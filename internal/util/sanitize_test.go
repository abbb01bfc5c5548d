package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeLogValue(t *testing.T) {
	assert.Equal(t, "plain value", SanitizeLogValue("plain value"))
	assert.Equal(t, "nonewlineshere", SanitizeLogValue("no\nnew\rlines\there"))
	assert.Equal(t, "", SanitizeLogValue("\x00\x1b[31m\x07"))
	assert.Equal(t, "redalert", SanitizeLogValue("red\x1b[31malert\x1b[0m"))
	assert.Equal(t, "tail", SanitizeLogValue("\x1btail"))

	long := strings.Repeat("a", 500)
	assert.Len(t, SanitizeLogValue(long), 256)
}

func TestMaskCardNumber(t *testing.T) {
	assert.Equal(t, "411111******1111", MaskCardNumber("4111111111111111"))
	assert.Equal(t, "411111******1111", MaskCardNumber("4111 1111 1111 1111"))
	assert.Equal(t, "********", MaskCardNumber("41111111"))
	assert.Equal(t, "", MaskCardNumber("no digits"))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "*********5678", MaskPhone("+2348012345678"))
	assert.Equal(t, "****", MaskPhone("5678"))
	assert.Equal(t, "", MaskPhone(""))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a**@example.com", MaskEmail("ada@example.com"))
	assert.Equal(t, "************", MaskEmail("not-an-email"))
	assert.Equal(t, "************", MaskEmail("@example.com"))
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "2348012345678", DigitsOnly("+234 (801) 234-5678"))
	assert.Equal(t, "", DigitsOnly("abc"))
}
