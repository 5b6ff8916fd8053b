// Package logger builds the zap logger shared by the repository core and
// carries request-scoped loggers through a context.
//
//	log := logger.New(logger.Config{Env: "prod", Level: "info"})
//	ctx = logger.ToContext(ctx, log.With(logger.TenantID(tenantID)))
//
// Components take a base logger through their WithLogger option and prefer the
// context logger when one is present:
//
//	logger.From(ctx, s.logger).Debug("lock acquired", logger.ResourceID(id))
package logger
