package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), nil
	default:
		return "", errors.Wrapf(ErrInvalidArgument, "unknown role %q", s)
	}
}

var phonePattern = regexp.MustCompile(`^[0-9]{10}$`)

type ShippingProfile struct {
	Phone    string `json:"phone"`
	Province string `json:"province"`
	District string `json:"district"`
	City     string `json:"city"`
	Address  string `json:"address"`
}

// Complete reports whether every field needed for delivery is set
func (p ShippingProfile) Complete() bool {
	for _, v := range []string{p.Phone, p.Province, p.District, p.City, p.Address} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// Validate is applied when the user edits the profile
func (p ShippingProfile) Validate() error {
	if !p.Complete() {
		return errors.Wrap(ErrIncompleteShippingProfile, "phone, province, district, city and address are required")
	}
	if !phonePattern.MatchString(p.Phone) {
		return errors.Wrap(ErrInvalidArgument, "phone number must be a valid 10-digit number")
	}
	return nil
}

type User struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName"`
	Role        Role            `json:"role"`
	Profile     ShippingProfile `json:"profile"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
