// Package scheduler owns every time-based trigger of the bot.
//
// A Registry keeps named entries backed by robfig/cron (recurring) or
// run-at timers (one-off). The Service builds entries for three sources:
// system schedules from config, per-deadline reminders, and job
// definitions stored in the database. Firing an entry publishes a named
// event on the bus; business handlers subscribe to those events.
package scheduler
