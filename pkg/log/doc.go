/*
Package log provides structured logging on top of zerolog: a global
logger initialized once via Init, and child-logger helpers that attach
context fields relevant to this client (component, client ID, path)
to every subsequent log line.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	txnLog := log.WithComponent("txn")
	txnLog.Warn().Err(err).Msg("commit retry exhausted")

	clientLog := log.WithClientID(clientID)
	clientLog.Info().Msg("owner record bound")

Component loggers compose: WithComponent and WithClientID each return
a plain zerolog.Logger, so call sites chain further fields with the
usual zerolog builder (.With().Str(...).Logger()) when a log line
needs more than one piece of context.

Never log backend credentials (username/password, client certificate
key material) — only paths, revisions, and client/lease identifiers.
*/
package log
