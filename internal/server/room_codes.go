package server

import (
	"errors"
	"math/rand/v2"
	"strconv"
)

// GenerateRoomCode returns a 4-digit numeric code not currently taken.
// Codes are drawn uniformly from 1000-9999 and re-rolled on collision;
// once a room is deleted its code goes back into the pool.
func GenerateRoomCode(taken func(code string) bool) string {
	for {
		code := strconv.Itoa(1000 + rand.IntN(9000))
		if !taken(code) {
			return code
		}
	}
}

// ValidateRoomCode rejects anything that isn't exactly 4 digits, before any
// registry lookup happens.
func ValidateRoomCode(code string) error {
	if len(code) != 4 {
		return errors.New("INVALID_ROOM_CODE: Room code must be exactly 4 digits")
	}
	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return errors.New("INVALID_ROOM_CODE: Room code must contain only digits")
		}
	}
	return nil
}
