package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// GenerateOrderNumber returns a human-readable order number, ORD-<unix>-<6 random digits>.
// The orders table's unique constraint is the final guard against collisions.
func GenerateOrderNumber(at time.Time) string {
	randomNum, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return fmt.Sprintf("ORD-%d-%06d", at.Unix(), at.Nanosecond()%1000000)
	}
	return fmt.Sprintf("ORD-%d-%06d", at.Unix(), randomNum.Int64())
}
