package main

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_ReturnsStartupErrors(t *testing.T) {
	tests := map[string]struct {
		env  map[string]string
		want string
	}{
		"invalid configuration": {
			env:  map[string]string{"STORAGE_DRIVER": "etcd"},
			want: "invalid configuration",
		},
		"unknown TAN channel": {
			env:  map[string]string{"TAN_CHANNEL": "carrierPigeon"},
			want: "failed to initialise",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", "testing")
			t.Setenv("STORAGE_DRIVER", "memory")
			t.Setenv("JWT_SECRET", "main-jwt-secret")
			t.Setenv("SCA_SECRET", "main-sca-secret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			err := run(context.Background(), io.Discard)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
