package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 描述一次取数：缓存键、命中层级、大小与耗时。
func FetchFields(key, source string, size int, elapsed time.Duration) logrus.Fields {
	return logrus.Fields{
		"key":        key,
		"source":     source,
		"size":       size,
		"elapsed_ms": elapsed.Milliseconds(),
	}
}

// RequestFields 提供 sidecar 访问日志字段。
func RequestFields(requestID, method, path string, status int, elapsed time.Duration) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
		"elapsed_ms": elapsed.Milliseconds(),
	}
}
