// Package logger builds *slog.Logger instances with environment-aware defaults,
// context attribute extraction and shared attribute constructors.
//
// New applies Option values (format, level, static attributes, context
// extractors) and wraps the chosen slog handler in LogHandlerDecorator, which
// pulls request-scoped values such as the request ID from the context on every
// record. NewFromConfig does the same from environment-driven Config.
//
// Attribute helpers (Error, UserID, Tier, Provider, SecurityEvent, ...) keep
// key names consistent across the engine, HTTP handlers and background jobs.
//
// # Usage
//
//	import "github.com/dmitrymomot/tierkeep/pkg/logger"
//
//	log, err := logger.NewFromConfig(cfg,
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	if err != nil {
//		return err
//	}
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "entitlement committed",
//		logger.UserID(userID),
//		logger.Tier(string(tier)),
//	)
//
// # Configuration
//
// The behaviour of New can be tuned with a variety of Option helpers:
//
//   • WithDevelopment / WithStaging / WithProduction – sensible defaults per environment.
//   • WithFormat / WithTextFormatter / WithJSONFormatter – override output format.
//   • WithLevel – set a custom slog.Level.
//   • WithAttr – attach static attributes.
//   • WithContextExtractors / WithContextValue – inject attributes from context.
//
// # Error Handling
//
// Helper functions Error and Errors produce attributes only when the supplied
// error value is non-nil allowing calls like:
//
//	log.Info("operation succeeded", logger.Error(err))
//
// without an additional nil check.
package logger
