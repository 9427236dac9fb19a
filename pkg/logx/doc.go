// Package logx is leaguebot's structured logging, a thin layer over zerolog.
//
// Console output is human-readable with a short caller. The optional file
// sink writes JSON lines. The optional ops sink mirrors warnings to a chat
// channel through a Sender, throttled so a burst cannot flood the channel.
package logx
