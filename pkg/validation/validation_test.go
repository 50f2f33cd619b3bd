package validation

import (
	"testing"

	"github.com/kuppel/kuppel.go/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestValidators(t *testing.T) {
	tests := []struct {
		name string
		got  Result
		ok   bool
	}{
		{"required", Required("category", "  "), false},
		{"required ok", Required("category", "supplies"), true},
		{"max length", MaxLength("name", "ñandú", 4), false},
		{"max length ok", MaxLength("name", "ñandú", 5), true},
		{"email", Email("not-an-email"), false},
		{"email with name", Email("Ana <ana@bar.co>"), false},
		{"email ok", Email("ana@bar.co"), true},
		{"password short", Password("123"), false},
		{"password ok", Password("123456"), true},
		{"positive", PositiveAmount("amount", 0), false},
		{"positive ok", PositiveAmount("amount", models.FromFloat(0.01)), true},
		{"non negative", NonNegativeAmount("opening", -1), false},
		{"non negative ok", NonNegativeAmount("opening", 0), true},
		{"one of", OneOf("method", "crypto", "cash", "card"), false},
		{"one of ok", OneOf("method", "card", "cash", "card"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.got.IsValid)
			if tt.ok {
				assert.Empty(t, tt.got.Error)
			} else {
				assert.NotEmpty(t, tt.got.Error)
			}
		})
	}
}

func TestFirst(t *testing.T) {
	assert.Equal(t, OK, First())
	assert.Equal(t, "b is required", First(OK, Required("b", ""), Required("c", "")).Error)
}

func TestErr(t *testing.T) {
	assert.NoError(t, OK.Err())

	err := Required("name", "").Err()
	var verr *Error
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "name is required", verr.Result.Error)
	assert.EqualError(t, err, "validation: name is required")
}
