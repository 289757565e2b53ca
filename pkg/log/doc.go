// Package log provides bigbrotr's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// typed Field for structured context. Loggers are constructed once at process
// start and handed to components explicitly; there is no package-level
// default logger.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	)
//	l = l.With(log.Component("syncer"))
//	l.Info("cycle finished", log.Int("relays", 412))
package log
