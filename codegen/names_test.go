package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoName(t *testing.T) {
	tests := []struct {
		in       string
		exported string
		local    string
	}{
		{"get-value", "GetValue", "getValue"},
		{"api", "API", "api"},
		{"uri-list", "URIList", "uriList"},
		{"inc-by", "IncBy", "incBy"},
		{"counter", "Counter", "counter"},
		{"x", "X", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.exported, GoName(tt.in))
			assert.Equal(t, tt.local, goLocalName(tt.in))
		})
	}
}

func TestWitIdent(t *testing.T) {
	assert.Equal(t, "%type", witIdent("type"))
	assert.Equal(t, "%list", witIdent("list"))
	assert.Equal(t, "point", witIdent("point"))
}
