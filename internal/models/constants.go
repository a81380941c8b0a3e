package models

const (
	// DefaultRateLimitMax booking attempts allowed per phone in one window
	DefaultRateLimitMax = 3

	// DefaultRateLimitWindow length of the per-phone window
	DefaultRateLimitWindow = 24 * 60 * 60 // 24 часа в секундах

	// DefaultPendingTTL lifetime of an unconfirmed reservation
	DefaultPendingTTL = 30 * 60 // 30 минут в секундах

	// DefaultTravelMinutes substituted when the travel lookup fails
	DefaultTravelMinutes = 30

	// DefaultGraceBufferMinutes appended after every appointment
	DefaultGraceBufferMinutes = 10

	// DefaultTravelTimeout bound on the external travel-time lookup
	DefaultTravelTimeout = 2 // секунды

	// DefaultSlotGranularity step used by availability views
	DefaultSlotGranularity = 15

	// DefaultSweepSchedule cron spec for the expiry sweep
	DefaultSweepSchedule = "@every 1m"

	// FallbackDayStart/FallbackDayEnd window used when a weekday has no configuration
	FallbackDayStart = TimeOfDay(9 * 60)
	FallbackDayEnd   = TimeOfDay(20 * 60)

	// DateLayout format of booking dates
	DateLayout = "2006-01-02"

	// ActorSystem records transitions made by background jobs
	ActorSystem = "system"
)
