package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"machine-catalog-backend/internal/apperr"
	"machine-catalog-backend/internal/auth"
)

func TestFilter_Scope(t *testing.T) {
	f := NewFilter(nil)

	tests := []struct {
		name     string
		id       *auth.Identity
		wantAll  bool
		wantUser string
		wantErr  bool
	}{
		{name: "anonymous", id: nil, wantErr: true},
		{name: "admin", id: &auth.Identity{UserID: "a", Role: auth.RoleAdmin}, wantAll: true},
		{name: "engenheiro", id: &auth.Identity{UserID: "e", Role: auth.RoleEngenheiro}, wantAll: true},
		{name: "cliente", id: &auth.Identity{UserID: "c", Role: auth.RoleCliente}, wantUser: "c"},
		{name: "unknown role is restricted", id: &auth.Identity{UserID: "x", Role: "auditor"}, wantUser: "x"},
		{name: "restricted without user", id: &auth.Identity{Role: auth.RoleCliente}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, err := f.Scope(tt.id)
			if tt.wantErr {
				assert.True(t, apperr.Is(err, apperr.KindPermission))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAll, scope.All())
			assert.Equal(t, tt.wantUser, scope.UserID())
		})
	}
}

func TestFilter_CanMutate(t *testing.T) {
	f := NewFilter([]string{"admin"})

	assert.True(t, apperr.Is(f.CanMutate(nil), apperr.KindPermission))
	assert.NoError(t, f.CanMutate(&auth.Identity{UserID: "a", Role: "admin"}))
	assert.True(t, apperr.Is(f.CanMutate(&auth.Identity{UserID: "e", Role: auth.RoleEngenheiro}), apperr.KindPermission))
}
