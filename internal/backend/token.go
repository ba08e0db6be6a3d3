package backend

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedToken    = errors.New("malformed access token")
	ErrTokenExpired      = errors.New("access token expired")
	ErrTokenRoomMismatch = errors.New("access token grants a different room")
)

// TokenInfo is what the client can learn from an access token without its signing key.
type TokenInfo struct {
	Identity  string
	Room      string
	ExpiresAt time.Time
}

type videoGrant struct {
	Room     string `json:"room,omitempty"`
	RoomJoin bool   `json:"roomJoin,omitempty"`
}

type accessClaims struct {
	Video *videoGrant `json:"video,omitempty"`
	jwt.RegisteredClaims
}

// InspectToken decodes an access token without verifying its signature and checks that it
// grants roomName and stays valid for at least skew. The transport verifies the signature.
func InspectToken(raw, roomName string, now time.Time, skew time.Duration) (TokenInfo, error) {
	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return TokenInfo{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	info := TokenInfo{Identity: claims.Subject}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
		if !info.ExpiresAt.After(now.Add(skew)) {
			return info, fmt.Errorf("%w at %s", ErrTokenExpired, info.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}
	if claims.Video != nil {
		info.Room = claims.Video.Room
	}
	if info.Room != "" && roomName != "" && info.Room != roomName {
		return info, fmt.Errorf("%w: %q", ErrTokenRoomMismatch, info.Room)
	}
	return info, nil
}
