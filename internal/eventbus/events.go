package eventbus

// Trigger events emitted by the scheduler.
const (
	DigestDue        = "digest_due"
	SyncDue          = "sync_due"
	CleanupDue       = "cleanup_due"
	ReminderDue      = "reminder_due"
	HighlightsDue    = "highlights_due"
	RivalryDue       = "rivalry_due"
	ContentPosterDue = "content_poster_due"
	ReminderJobDue   = "reminder_job_due"
	SleeperSyncDue   = "sleeper_sync_due"
	RecapDue         = "recap_due"
)

// Lifecycle events emitted by the delivery layer.
const (
	DeliveryPosted   = "delivery.posted"
	DeliveryFailed   = "delivery.failed"
	DeliveryReplayed = "delivery.replayed"
)

// Payload keys shared by publishers and subscribers.
const (
	KeyLeagueID    = "leagueId"
	KeyJobID       = "jobId"
	KeyConfig      = "config"
	KeyTimezone    = "timezone"
	KeyWeek        = "week"
	KeyHoursBefore = "hoursBefore"
	KeyDeadlineID  = "deadlineId"
	KeyDeadline    = "deadline"
	KeyFiredAt     = "firedAt"
)
