package models

import "net/http"

// Context keys carried through every request, webhook and worker run.
type UserContext struct{}
type ClientContext struct{}
type PlanContext struct{}

type RoundTripperFunc func(req *http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
