package checkout

import "github.com/pkg/errors"

var ErrIllegalTransition = errors.New("illegal transition of checkout status")
