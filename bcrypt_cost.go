//go:build !race

package auth

// defaultPasswordHashCost is the bcrypt cost used when none is configured
const defaultPasswordHashCost = 12
