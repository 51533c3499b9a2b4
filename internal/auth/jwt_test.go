package auth

import (
	"errors"
	"testing"
)

func TestGenerateAndValidateAccessToken(t *testing.T) {
	svc := NewJWTService("test-secret-for-unit-tests")

	token, err := svc.GenerateAccessToken("user-1", "org-1")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", claims.Subject)
	}
	if claims.OrgID != "org-1" {
		t.Errorf("org_id = %q, want org-1", claims.OrgID)
	}
	if claims.Type != TokenTypeAccess {
		t.Errorf("typ = %q, want %q", claims.Type, TokenTypeAccess)
	}
}

func TestGenerateAccessToken_RequiresOrgID(t *testing.T) {
	svc := NewJWTService("test-secret-for-unit-tests")

	if _, err := svc.GenerateAccessToken("user-1", ""); !errors.Is(err, ErrEmptyOrgID) {
		t.Errorf("error = %v, want ErrEmptyOrgID", err)
	}
}

func TestValidateAccessToken_WrongSecret(t *testing.T) {
	svc := NewJWTService("test-secret-for-unit-tests")
	other := NewJWTService("a-completely-different-secret")

	token, err := svc.GenerateAccessToken("user-1", "org-1")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	if _, err := other.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	svc := NewJWTService("test-secret-for-unit-tests")

	if _, err := svc.ValidateAccessToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateAccessToken_KeyRotation(t *testing.T) {
	oldSvc := NewJWTService("old-secret-before-rotation")
	token, err := oldSvc.GenerateAccessToken("user-1", "org-1")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	rotated := NewJWTServiceWithRotation("new-secret-after-rotation", "old-secret-before-rotation")
	claims, err := rotated.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("token signed with previous secret rejected: %v", err)
	}
	if claims.OrgID != "org-1" {
		t.Errorf("org_id = %q, want org-1", claims.OrgID)
	}

	// Once the old secret is dropped, its tokens stop validating.
	final := NewJWTService("new-secret-after-rotation")
	if _, err := final.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken after rotation completes", err)
	}
}
