package ldb

import "github.com/xtsnet/xtsd/infrastructure/logger"

var log = logger.Get("CHDB")
