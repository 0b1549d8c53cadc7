package config

import "errors"

var errRequiredInProd = errors.New("required in prod")
