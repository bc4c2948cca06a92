package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryHasBuiltins(t *testing.T) {
	names := List()
	assert.Contains(t, names, "postgres")
	assert.Contains(t, names, "duckdb")
}

func TestNewByType(t *testing.T) {
	a, err := New(Config{Type: "postgres"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres", a.Name())

	a, err = New(Config{Type: "duckdb"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "duckdb", a.Name())
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(Config{Type: "oracle"}, nil)
	require.Error(t, err)

	var unknown *UnknownAdapterError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "oracle", unknown.Type)
	assert.Contains(t, unknown.Available, "duckdb")
}

func TestNewMissingType(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "defaults",
			cfg:  Config{Database: "his"},
			want: "host=localhost port=5432 dbname=his sslmode=disable",
		},
		{
			name: "full",
			cfg: Config{
				Host: "replica.local", Port: 5433, Database: "his",
				Username: "reader", Password: "secret",
				Options: map[string]string{"sslmode": "require"},
			},
			want: "host=replica.local port=5433 dbname=his sslmode=require user=reader password=secret",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildPostgresDSN(tt.cfg))
		})
	}
}
