package configtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseListenAddress(t *testing.T) {
	tests := []struct {
		listen  string
		host    string
		port    int
		wantErr bool
	}{
		{listen: ":8080", host: "", port: 8080},
		{listen: "127.0.0.1:9090", host: "127.0.0.1", port: 9090},
		{listen: "8081", host: "", port: 8081},
		{listen: "", wantErr: true},
		{listen: "localhost:http", wantErr: true},
		{listen: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.listen, func(t *testing.T) {
			host, port, err := ParseListenAddress(tt.listen)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
		})
	}
}

func TestValidateListenAddress(t *testing.T) {
	assert.NoError(t, ValidateListenAddress(":8080"))
	assert.Error(t, ValidateListenAddress(":0"))
	assert.Error(t, ValidateListenAddress(":70000"))
	assert.Error(t, ValidateListenAddress(""))
}
