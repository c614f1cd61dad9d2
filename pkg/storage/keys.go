/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package storage

import "strings"

const (
	KeyPrefixComponentsSeparator = ":"
	KeyPrefixIDSeparator         = "#"
)

func key(id string, components ...string) string {
	return strings.Join([]string{
		strings.Join(components, KeyPrefixComponentsSeparator), id,
	}, KeyPrefixIDSeparator)
}

// hashTag makes Redis Cluster map all the keys of a kind to the same hash slot, so that
// PutSnapshot can update a machine and the state SETs in one transaction.
func hashTag(kind string) string {
	return "{" + kind + "}"
}

// NewKeyForMachine fsm:{<kind>}#<id>
func NewKeyForMachine(kind, id string) string {
	return key(id, "fsm", hashTag(kind))
}

// NewKeyForMachinesByState fsm:{<kind>}:state#<state>
func NewKeyForMachinesByState(kind, state string) string {
	return key(state, "fsm", hashTag(kind), "state")
}

// NewKeyForAudit audit:{<kind>}#<id>
func NewKeyForAudit(kind, id string) string {
	return key(id, "audit", hashTag(kind))
}
