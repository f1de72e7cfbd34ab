package game

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Config carries the tunables of one engine instance. Defaults mirror the
// environment the server runs with in production.
type Config struct {
	MinBet        float64
	MaxBet        float64
	HouseEdge     float64
	MaxMultiplier float64
	GrowthRate    float64
	TickInterval  time.Duration

	// BettingWindow is how long the round stays open for further bets after
	// the first accepted bet armed it. Zero means the first bet launches the
	// round immediately.
	BettingWindow time.Duration
	Intermission  time.Duration

	// SubscriberBuffer bounds each subscription's event queue; a subscriber
	// that falls this far behind is pruned.
	SubscriberBuffer int
}

func DefaultConfig() Config {
	return Config{
		MinBet:           getEnvAsFloat("CRASH_MIN_BET", 1.0),
		MaxBet:           getEnvAsFloat("CRASH_MAX_BET", 10000.0),
		HouseEdge:        getEnvAsFloat("CRASH_HOUSE_EDGE", 0.01),
		MaxMultiplier:    getEnvAsFloat("CRASH_MAX_MULTIPLIER", 100.0),
		GrowthRate:       getEnvAsFloat("CRASH_GROWTH_RATE", 0.06),
		TickInterval:     time.Duration(getEnvAsInt("CRASH_TICK_MS", 100)) * time.Millisecond,
		BettingWindow:    time.Duration(getEnvAsFloat("CRASH_BETTING_SECONDS", 5)*1000) * time.Millisecond,
		Intermission:     time.Duration(getEnvAsFloat("CRASH_INTERMISSION_SECONDS", 4)*1000) * time.Millisecond,
		SubscriberBuffer: getEnvAsInt("CRASH_SUBSCRIBER_BUFFER", 64),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
