package mq

import "github.com/pkg/errors"

var ErrQueueFull = errors.New("update queue full")
