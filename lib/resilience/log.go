// Package resilience provides the retry policy shared by a tonpool client.
package resilience

import (
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()
