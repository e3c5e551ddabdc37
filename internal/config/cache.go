package config

import "time"

// AvatarCacheConfig defines settings for the avatar response cache.
// Entries live under {Prefix}:{user_id}[:{size}] so that a single
// pattern delete drops every cached variant of one user's avatar.
type AvatarCacheConfig struct {
	Enabled      bool
	TTL          time.Duration
	Prefix       string
	MaxBodyBytes int
}

// LoadAvatarCacheConfig reads the AVATAR_CACHE_* variables.
func LoadAvatarCacheConfig() AvatarCacheConfig {
	cfg := AvatarCacheConfig{
		Enabled:      envBool("AVATAR_CACHE_ENABLED", true),
		TTL:          envDur("AVATAR_CACHE_TTL", 30*24*time.Hour),
		Prefix:       envStr("AVATAR_CACHE_PREFIX", "cache:avatar"),
		MaxBodyBytes: envInt("AVATAR_CACHE_MAX_BODY_BYTES", 4<<20),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	return cfg
}
