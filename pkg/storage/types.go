/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package storage

import (
	"errors"
	"fmt"
	"time"
)

const (
	NeverExpire       = 0
	DefaultRedisDb    = 0
	DefaultMaxRetries = 3
	DefaultTimeout    = 200 * time.Millisecond
)

// StoreErr is returned by all the store operations; use the Is* functions to tell them apart.
type StoreErr = error

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidData    = errors.New("invalid data")
	ErrTooManyAttempts = errors.New("too many attempts")
	ErrStore          = errors.New("store error")
)

func newErr(sentinel error, format string) func(string) StoreErr {
	return func(detail string) StoreErr {
		return fmt.Errorf(format+": %w", detail, sentinel)
	}
}

var (
	NotFoundError     = newErr(ErrNotFound, "key `%s`")
	InvalidDataError  = newErr(ErrInvalidData, "cannot store `%s`")
	TooManyAttempts   = newErr(ErrTooManyAttempts, "giving up on `%s`")
	GenericStoreError = newErr(ErrStore, "%s")
)

func IsNotFoundErr(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidDataErr(err error) bool {
	return errors.Is(err, ErrInvalidData)
}
