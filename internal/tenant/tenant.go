package tenant

import (
	"errors"
	"fmt"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrInvalidLabel   = errors.New("invalid tenant label")
)

// MaxLabelLength is the DNS label limit.
const MaxLabelLength = 63

// ValidateLabel checks that label is a single lowercase DNS label made of
// letters, digits and inner hyphens. Labels are enforced at provisioning
// time; the gateway only uses this to flag suspicious hosts in logs.
func ValidateLabel(label string) error {
	if label == "" || len(label) > MaxLabelLength {
		return fmt.Errorf("%w: length %d", ErrInvalidLabel, len(label))
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("%w: %q starts or ends with a hyphen", ErrInvalidLabel, label)
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			continue
		}
		return fmt.Errorf("%w: %q contains %q", ErrInvalidLabel, label, c)
	}
	return nil
}
