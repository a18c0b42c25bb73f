package domain

type CheckoutStatus string

const (
	CheckoutStatusValidating CheckoutStatus = "VALIDATING"
	CheckoutStatusCommitting CheckoutStatus = "COMMITTING"
	CheckoutStatusDone       CheckoutStatus = "DONE"
	CheckoutStatusRejected   CheckoutStatus = "REJECTED"
)

var checkoutTransitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusValidating: {CheckoutStatusCommitting, CheckoutStatusRejected},
	CheckoutStatusCommitting: {CheckoutStatusDone, CheckoutStatusRejected},
}

func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusDone || s == CheckoutStatusRejected
}

func (s CheckoutStatus) CanTransitionTo(next CheckoutStatus) bool {
	for _, allowed := range checkoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// String representation (for logging)
func (s CheckoutStatus) String() string {
	return string(s)
}
