package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Cómo va lo mío?", "como va lo mio?"},
		{"  BAÑO  ", "bano"},
		{"Actualización", "actualizacion"},
		{"3º B", "3º b"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fold(tt.in), tt.in)
	}
}

func TestContainsAny(t *testing.T) {
	p, ok := ContainsAny("¿Qué pasó con la AVERÍA?", []string{"novedades", "que paso"})
	assert.True(t, ok)
	assert.Equal(t, "que paso", p)

	_, ok = ContainsAny("gracias", []string{"estado"})
	assert.False(t, ok)
}
