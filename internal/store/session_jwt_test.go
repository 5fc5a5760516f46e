package store

import (
	"testing"
	"time"
)

func TestSessionRoundTrip(t *testing.T) {
	s := NewJWTSessionStore("secret-0123456789", time.Hour, NewMemoryTokenRevoker(), JWTOptions{})
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil || !ok {
		t.Fatalf("GetUserIDByToken: ok=%v err=%v", ok, err)
	}
	if userID != "user-1" {
		t.Fatalf("userID = %q", userID)
	}
}

func TestSessionRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTSessionStore("secret-0123456789", time.Hour, nil, JWTOptions{})
	verifier := NewJWTSessionStore("other-secret-012345", time.Hour, nil, JWTOptions{})
	token, err := issuer.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, ok, err := verifier.GetUserIDByToken(token); ok || err == nil {
		t.Fatal("token verified under wrong secret")
	}
}

func TestSessionRejectsGarbage(t *testing.T) {
	s := NewJWTSessionStore("secret-0123456789", time.Hour, nil, JWTOptions{})
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, ok, err := s.GetUserIDByToken(token); ok || err == nil {
			t.Errorf("token %q accepted", token)
		}
	}
}

func TestDeleteSessionRevokes(t *testing.T) {
	s := NewJWTSessionStore("secret-0123456789", time.Hour, NewMemoryTokenRevoker(), JWTOptions{})
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); ok || err == nil {
		t.Fatal("revoked token still accepted")
	}
}

func TestDeleteSessionWithoutRevokerIsNoop(t *testing.T) {
	s := NewJWTSessionStore("secret-0123456789", time.Hour, nil, JWTOptions{})
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); !ok {
		t.Fatal("token should stay valid without a revoker")
	}
}

func TestMemoryTokenRevokerExpiry(t *testing.T) {
	r := NewMemoryTokenRevoker()
	if err := r.Revoke("jti-1", 10*time.Millisecond); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked, _ := r.IsRevoked("jti-1"); !revoked {
		t.Fatal("jti not revoked")
	}
	time.Sleep(20 * time.Millisecond)
	if revoked, _ := r.IsRevoked("jti-1"); revoked {
		t.Fatal("revocation did not expire")
	}
}
