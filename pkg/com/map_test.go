package com

import (
	"sync"
	"testing"
)

func TestMap(t *testing.T) {
	m := NewMap[string, int]()
	if !m.IsEmpty() {
		t.Fatalf("a new map should be empty")
	}
	m.Put("a", 1)
	m.Put("b", 2)

	if v, err := m.Find("a"); err != nil || v != 1 {
		t.Errorf("expected 1, got %v (%v)", v, err)
	}
	if _, err := m.Find("c"); err != ErrNotFound {
		t.Errorf("expected not found, got %v", err)
	}
	m.RemoveByKey("b")
	if m.Has("b") {
		t.Errorf("b should be removed")
	}
	if l := len(m.Values()); l != 1 {
		t.Errorf("expected 1 value, got %v", l)
	}
}

func TestMapConcurrentPut(t *testing.T) {
	m := NewMap[int, int]()
	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			m.Put(i, i)
		}()
	}
	wg.Wait()
	if m.Len() != n {
		t.Errorf("expected %v elements, got %v", n, m.Len())
	}
}

func TestUid(t *testing.T) {
	a, b := NewUid(), NewUid()
	if a == b {
		t.Fatalf("ids should be unique")
	}
	p, err := ParseUid(a.String())
	if err != nil || p != a {
		t.Errorf("couldn't parse %v back, %v", a, err)
	}
	if _, err = ParseUid("nope"); err == nil {
		t.Errorf("expected a parse error")
	}
	if len(a.Short()) != 7 {
		t.Errorf("unexpected short form %v", a.Short())
	}
}
