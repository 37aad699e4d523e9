package placement

import "fmt"

// Verdict is the outcome of a placement check. Message is empty when Allowed.
// Verdicts compare with ==.
type Verdict struct {
	Allowed bool
	Message string
}

var Allow = Verdict{Allowed: true}

func Deny(msg string) Verdict {
	return Verdict{Allowed: false, Message: msg}
}

func (v Verdict) String() string {
	return fmt.Sprintf("Verdict{allowed=%t message=%q}", v.Allowed, v.Message)
}
