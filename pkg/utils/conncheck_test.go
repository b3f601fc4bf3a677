package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractFromNatsURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "with port", url: "nats://localhost:4222", want: "localhost:4222"},
		{name: "without port", url: "nats://broker", want: "broker:4222"},
		{name: "with credentials", url: "nats://user:pw@broker:5222", want: "broker:5222"},
		{name: "tls scheme", url: "tls://broker:4222", want: "broker:4222"},
		{name: "no scheme", url: "broker:4222", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFromNatsURL(tt.url))
		})
	}
}

func TestExtractFromDBURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "with port",
			url:  "postgresql://user:pw@db.example.com:5433/timing",
			want: "db.example.com:5433",
		},
		{
			name: "without port",
			url:  "postgresql://user:pw@db.example.com/timing",
			want: "db.example.com:5432",
		},
		{name: "not a db url", url: "http://db.example.com/timing", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFromDBURL(tt.url))
		})
	}
}
