package services_test

import (
	"testing"
	"time"

	"game-lobby-backend/internal/config"
	"game-lobby-backend/internal/services"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := services.NewJWTService(&config.Config{JWTSecret: "secret"})

	token, err := svc.GenerateToken(7, "alice")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 7 || claims.Username != "alice" || claims.SessionID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestJWTRejects(t *testing.T) {
	svc := services.NewJWTService(&config.Config{JWTSecret: "secret"})
	other := services.NewJWTService(&config.Config{JWTSecret: "other"})

	foreign, _ := other.GenerateToken(7, "alice")
	if _, err := svc.ValidateToken(foreign); err == nil {
		t.Fatal("token signed with another secret accepted")
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, services.Claims{
		UserID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "game-lobby",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, _ := expired.SignedString([]byte("secret"))
	if _, err := svc.ValidateToken(signed); err == nil {
		t.Fatal("expired token accepted")
	}

	anonymous := jwt.NewWithClaims(jwt.SigningMethodHS256, services.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "game-lobby"},
	})
	signed, _ = anonymous.SignedString([]byte("secret"))
	if _, err := svc.ValidateToken(signed); err == nil {
		t.Fatal("token without a user accepted")
	}

	if _, err := svc.ValidateToken("not-a-token"); err == nil {
		t.Fatal("garbage accepted")
	}
}
