package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("LEDGERGATE_TEST_MODE") == "" {
			_ = os.Setenv("LEDGERGATE_TEST_MODE", "1")
		}
	})
}
