package metric

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func Method(val string) zap.Field {
	return zap.String("method", val)
}

func Path(val string) zap.Field {
	return zap.String("path", val)
}

func Status(val int) zap.Field {
	return zap.Int("status", val)
}

func TotalDur(val time.Duration) zap.Field {
	return zap.Int64("totalMs", val.Milliseconds())
}

func SpaceId(val string) zap.Field {
	return zap.String("spaceId", val)
}

func FeatureCount(val int) zap.Field {
	return zap.Int("features", val)
}

func ReaderId(val string) zap.Field {
	return zap.String("readerId", val)
}

func Owner(val string) zap.Field {
	return zap.String("owner", val)
}

func Version(val int64) zap.Field {
	return zap.Int64("version", val)
}

func ExtendsId(val string) zap.Field {
	return zap.String("extendsId", val)
}

func (m *metric) RequestLog(ctx context.Context, fields ...zap.Field) {
	m.reqLog.InfoCtx(ctx, "", fields...)
}
