package simulate

import (
	"fmt"

	"github.com/okian/prefstudy/internal/domain/model"
)

// verifyComparison checks one finished table: personal ranks are exactly
// 1..n in order, and every difference is global minus personal.
func verifyComparison(rows []model.ComparisonRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("%w: empty table", ErrVerification)
	}
	for i, r := range rows {
		if r.PersonalRank != i+1 {
			return fmt.Errorf("%w: row %d (%s) has personal rank %d", ErrVerification, i, r.Filename, r.PersonalRank)
		}
		if (r.GlobalRank == nil) != (r.Difference == nil) {
			return fmt.Errorf("%w: %s has a global rank without a difference", ErrVerification, r.Filename)
		}
		if r.GlobalRank != nil && *r.Difference != *r.GlobalRank-r.PersonalRank {
			return fmt.Errorf("%w: %s difference %d, want %d", ErrVerification, r.Filename, *r.Difference, *r.GlobalRank-r.PersonalRank)
		}
		if r.GlobalRank != nil && (*r.GlobalRank < 1 || *r.GlobalRank > len(rows)) {
			return fmt.Errorf("%w: %s global rank %d out of range", ErrVerification, r.Filename, *r.GlobalRank)
		}
	}
	return nil
}
