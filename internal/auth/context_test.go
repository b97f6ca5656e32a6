// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests HasCapability and context propagation helpers

package auth

import (
	"context"
	"testing"
)

func TestAuthContext_HasCapability(t *testing.T) {
	tests := []struct {
		name string
		caps []string
		cap  string
		want bool
	}{
		{"exact match", []string{"workspace", "memory"}, "memory", true},
		{"missing", []string{"workspace"}, "exec", false},
		{"nil caps", nil, "workspace", false},
		{"wildcard", []string{"*"}, "exec", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &AuthContext{UserID: "u", Capabilities: tt.caps}
			if got := auth.HasCapability(tt.cap); got != tt.want {
				t.Errorf("HasCapability(%q) = %v, want %v", tt.cap, got, tt.want)
			}
		})
	}
}

func TestWithAuth_FromContext(t *testing.T) {
	want := &AuthContext{UserID: "user-1", Capabilities: []string{"memory"}}
	ctx := WithAuth(context.Background(), want)

	got := FromContext(ctx)
	if got != want {
		t.Errorf("FromContext() = %+v, want %+v", got, want)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %+v, want nil", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustFromContext() did not panic")
		}
	}()
	MustFromContext(context.Background())
}
