package com

import "github.com/rs/xid"

// Uid is a process-unique connection id.
type Uid struct {
	xid.ID
}

var NilUid = Uid{xid.NilID()}

func NewUid() Uid { return Uid{xid.New()} }

// ParseUid decodes the textual form of an id received from a client.
func ParseUid(s string) (Uid, error) {
	id, err := xid.FromString(s)
	if err != nil {
		return NilUid, err
	}
	return Uid{id}, nil
}

func (u Uid) IsEmpty() bool { return u.IsNil() }
func (u Uid) Short() string { return u.String()[:3] + "." + u.String()[len(u.String())-3:] }
