package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendConfigResolve(t *testing.T) {
	tests := []struct {
		name    string
		cfg     BackendConfig
		want    Backend
		wantErr bool
	}{
		{"nothing configured", BackendConfig{}, BackendMemory, false},
		{"database url", BackendConfig{DatabaseURL: "postgres://x"}, BackendRelational, false},
		{"redis url", BackendConfig{RedisURL: "redis://x"}, BackendCache, false},
		{"database wins over redis", BackendConfig{DatabaseURL: "postgres://x", RedisURL: "redis://x"}, BackendRelational, false},
		{"explicit memory wins", BackendConfig{Backend: BackendMemory, DatabaseURL: "postgres://x"}, BackendMemory, false},
		{"explicit cache with url", BackendConfig{Backend: BackendCache, DatabaseURL: "postgres://x", RedisURL: "redis://x"}, BackendCache, false},
		{"relational without url", BackendConfig{Backend: BackendRelational}, "", true},
		{"cache without url", BackendConfig{Backend: BackendCache}, "", true},
		{"unknown backend", BackendConfig{Backend: "mongo"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.Resolve()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFactoryBuildMemory(t *testing.T) {
	stores, err := NewFactory(BackendConfig{}).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, stores.Backend)
	assert.NotNil(t, stores.Jobs)
	assert.NotNil(t, stores.Conversions)
	assert.Nil(t, stores.DB())
	assert.NoError(t, stores.Close())
}

func TestFactoryBuildRelationalSQLite(t *testing.T) {
	stores, err := NewFactory(BackendConfig{DatabaseURL: "sqlite://file:factory_build?mode=memory&cache=shared"}).Build(context.Background())
	require.NoError(t, err)
	defer stores.Close()

	assert.Equal(t, BackendRelational, stores.Backend)
	require.NotNil(t, stores.DB())
	assert.True(t, stores.DB().Migrator().HasTable("jobs"))
	assert.True(t, stores.DB().Migrator().HasTable("audit_logs"))
	assert.True(t, stores.DB().Migrator().HasTable("conversions"))
}

func TestFactoryBuildUnsupportedDatabaseScheme(t *testing.T) {
	_, err := NewFactory(BackendConfig{DatabaseURL: "oracle://x"}).Build(context.Background())
	assert.Error(t, err)
}
