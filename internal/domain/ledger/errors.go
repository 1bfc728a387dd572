package ledger

import "errors"

// ErrItemNotFound is returned when a decision references an id the ledger
// does not hold. Correct sampling never produces it.
var ErrItemNotFound = errors.New("item not in ledger")
