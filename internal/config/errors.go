package config

import "errors"

var errUnsupportedDurationType = errors.New("config: duration must be a string (\"60s\") or a number of seconds")
