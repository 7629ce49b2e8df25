package service

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sgarate/canvaslive/models"
)

// Session tokens are HS256 JWTs carrying the room id and a grant id (jti).
// The signature stops tampering, but the room's session table stays
// authoritative: a token is only honored while its jti is recorded there,
// so tokens die with the room. No expiry is set; grants last for the room's
// process lifetime.

func (s *Service) mintSessionToken(roomId string, role models.Role) (token string, jti string, err error) {
	jtiUUID, err := uuid.NewV4()
	if err != nil {
		return "", "", err
	}
	jti = jtiUUID.String()

	claims := jwt.MapClaims{
		"roomId": roomId,
		"role":   string(role),
		"jti":    jti,
		"iat":    time.Now().Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err = t.SignedString(s.SessionSecret)
	if err != nil {
		return "", "", err
	}

	return token, jti, nil
}

func (s *Service) parseSessionToken(tokenString string) (roomId string, jti string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return s.SessionSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", "", err
	}

	if !token.Valid {
		return "", "", errors.New("invalid session token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New("invalid session token claims")
	}

	roomId, ok = claims["roomId"].(string)
	if !ok {
		return "", "", errors.New("missing roomId claim")
	}

	jti, ok = claims["jti"].(string)
	if !ok {
		return "", "", errors.New("missing jti claim")
	}

	return roomId, jti, nil
}
