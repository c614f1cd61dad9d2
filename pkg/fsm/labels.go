/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package fsm

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Label renders a state for humans: `partial_fill` becomes `Partial Fill`.
func Label(s State) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}
