package service

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fake struct {
	name  string
	trail *[]string
	err   error
}

func (f *fake) Run() { *f.trail = append(*f.trail, "run "+f.name) }
func (f *fake) Shutdown(context.Context) error {
	*f.trail = append(*f.trail, "stop "+f.name)
	return f.err
}
func (f *fake) String() string { return f.name }

func TestGroup(t *testing.T) {
	var trail []string
	g := Group{}
	g.Add(&fake{name: "a", trail: &trail})
	g.AddIf(false, &fake{name: "skip", trail: &trail})
	g.AddIf(true, &fake{name: "b", trail: &trail, err: errors.New("boom")})
	g.Add(&fake{name: "c", trail: &trail, err: context.Canceled})

	g.Start()
	err := g.Shutdown(context.Background())

	want := "run a,run b,run c,stop c,stop b,stop a"
	if got := strings.Join(trail, ","); got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
	if err == nil || !strings.Contains(err.Error(), "[b]: boom") {
		t.Errorf("unexpected error %v", err)
	}
}
