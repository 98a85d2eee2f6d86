package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CFDILAB_TEST_MODE") == "" {
			_ = os.Setenv("CFDILAB_TEST_MODE", "1")
		}
	})
}
