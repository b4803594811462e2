package env

import (
	"github.com/oebus/fansync/internal/config"
)

var Cfg *config.Config
