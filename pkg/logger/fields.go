package logger

import "go.uber.org/zap"

func TenantID(v string) zap.Field {
	return zap.String("tenant_id", v)
}

func Collection(v string) zap.Field {
	return zap.String("collection", v)
}

func Database(v string) zap.Field {
	return zap.String("database", v)
}

func ResourceID(v string) zap.Field {
	return zap.String("resource_id", v)
}

func OwnerID(v string) zap.Field {
	return zap.String("owner_id", v)
}

func CacheKey(v string) zap.Field {
	return zap.String("cache_key", v)
}

func Count(v int) zap.Field {
	return zap.Int("count", v)
}
