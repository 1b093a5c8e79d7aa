package fetch

import (
	"fmt"

	"github.com/media-hub/media-hub/internal/cachekey"
)

// FetchError 表示网络取数失败；此时任何缓存层都不会被写入。
type FetchError struct {
	Identifier string
	Key        cachekey.Key
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Identifier, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
