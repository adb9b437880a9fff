// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cto

import (
	"github.com/cznic/nvm/balloc"
)

// A String is a persistent immutable-by-convention string: a Vec of bytes
// with string accessors.
type String struct {
	Vec
}

// NewString stores s in pool memory.
func NewString(pool *balloc.Pool, s string) (*String, error) {
	v, err := NewVec(pool)
	if err != nil {
		return nil, err
	}

	if err = v.Append([]byte(s)); err != nil {
		v.Free()
		return nil, err
	}

	return &String{Vec: *v}, nil
}

// StringAt re-binds a String whose header chain is at hdr.
func StringAt(pool *balloc.Pool, hdr balloc.Ptr) *String {
	return &String{Vec: *VecAt(pool, hdr)}
}

// String returns a copy of the stored bytes.
func (s *String) String() string { return string(s.Bytes()) }
