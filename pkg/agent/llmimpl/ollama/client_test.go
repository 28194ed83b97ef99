package ollama

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codecrew/pkg/agent/llmerrors"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		model   string
		wantErr bool
	}{
		{
			name:  "default host",
			host:  "",
			model: "llama3.1:8b",
		},
		{
			name:  "custom host",
			host:  "http://192.168.1.100:11434",
			model: "phi4:latest",
		},
		{
			name:    "unparseable host",
			host:    "http://bad host:port",
			model:   "mistral:7b",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.host, tt.model)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, client)
			assert.Equal(t, tt.model, client.ModelName())
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want llmerrors.ErrorType
	}{
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: llmerrors.ErrorTypeTransient,
		},
		{
			name: "model not found",
			err:  api.StatusError{StatusCode: http.StatusNotFound},
			want: llmerrors.ErrorTypeBadPrompt,
		},
		{
			name: "server error",
			err:  api.StatusError{StatusCode: http.StatusServiceUnavailable},
			want: llmerrors.ErrorTypeTransient,
		},
		{
			name: "connection refused",
			err:  errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"),
			want: llmerrors.ErrorTypeTransient,
		},
		{
			name: "unclassified",
			err:  errors.New("something odd"),
			want: llmerrors.ErrorTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyError(tt.err)
			require.NotNil(t, classified)
			assert.Equal(t, tt.want, classified.Type)
		})
	}
}
