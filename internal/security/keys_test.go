package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"standard key", "PRO-ABCD-EFGH-IJKL-MNOP", "PRO-ABCD-****-****-MNOP"},
		{"empty", "", "****-****-****-****"},
		{"undashed long", "ABCDEFGHIJKLMNOP", "ABCD-****-****-MNOP"},
		{"short", "ABC", "****"},
		{"eight chars", "ABCDEFGH", "****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskKey(tt.key))
		})
	}
}

func TestMaskKeyHidesMiddleSegments(t *testing.T) {
	masked := MaskKey("PRO-ABCD-EFGH-IJKL-MNOP")
	assert.NotContains(t, masked, "EFGH")
	assert.NotContains(t, masked, "IJKL")
}

func TestValidateKeyFormat(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		valid bool
	}{
		{"valid", "PRO-ABCD-EFGH-IJKL-MNOP", true},
		{"valid digits", "PRO-1234-5678-90AB-CDEF", true},
		{"lowercase", "pro-abcd-efgh-ijkl-mnop", false},
		{"lowercase segment", "PRO-abcd-EFGH-IJKL-MNOP", false},
		{"wrong prefix", "DEV-ABCD-EFGH-IJKL-MNOP", false},
		{"short segment", "PRO-ABC-EFGH-IJKL-MNOP", false},
		{"long segment", "PRO-ABCDE-EFGH-IJKL-MNOP", false},
		{"too few segments", "PRO-ABCD-EFGH-IJKL", false},
		{"too many segments", "PRO-ABCD-EFGH-IJKL-MNOP-QRST", false},
		{"special chars", "PRO-AB!D-EFGH-IJKL-MNOP", false},
		{"trailing newline", "PRO-ABCD-EFGH-IJKL-MNOP\n", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidateKeyFormat(tt.key))
		})
	}
}
