package wavinhome

import "fmt"

// AuthError means the portal rejected the credentials or the login response
// carried no usable session cookie.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// ConnError covers everything else that can go wrong talking to the portal:
// timeouts, transport failures, unexpected HTTP statuses and unparseable
// pages. Page is set when the failure happened on a numbered listing page.
type ConnError struct {
	Op     string
	Page   int
	URL    string
	Status int
	Err    error
}

func (e *ConnError) Error() string {
	msg := "connection error: " + e.Op
	if e.Page > 0 {
		msg += fmt.Sprintf(" (page %d)", e.Page)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(": unexpected status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnError) Unwrap() error { return e.Err }
