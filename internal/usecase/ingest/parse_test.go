package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtoiOr(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "entero", value: " 42 ", want: 42},
		{name: "vacío", value: "", want: -1},
		{name: "decimal se trunca", value: "12.9", want: 12},
		{name: "texto", value: "doce", want: -1},
		{name: "exponente enorme", value: "1e30", want: -1},
		{name: "exponente enorme negativo", value: "-1e30", want: -1},
		{name: "infinito", value: "Inf", want: -1},
		{name: "nan", value: "NaN", want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, atoiOr(tt.value, -1))
		})
	}
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "12", digitsOnly("carrying 12 raiders"))
	assert.Equal(t, "", digitsOnly("none"))
}
