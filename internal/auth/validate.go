package auth

import (
	"errors"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/tazhibayda/auth-api/internal/domain"
)

const (
	MaxAvatarBytes = 5 << 20
	passwordMin    = 8
	passwordMax    = 72 // bcrypt ignores anything longer
	specialChars   = "!@#$%^&*"
)

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/avif": ".avif",
}

var errPasswordMismatch = domain.ErrValidation.WithMessage("passwords do not match")

// RegisterInput is what a client submits to create a local account.
type RegisterInput struct {
	Name            string  `json:"name"`
	Lastname        string  `json:"lastname"`
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	ConfirmPassword string  `json:"confirmPassword"`
	Image           *Upload `json:"-"`
}

func (in RegisterInput) validate(requireAvatar bool) error {
	if blank(in.Name, in.Lastname, in.Email, in.Password, in.ConfirmPassword) {
		return domain.ErrValidation
	}
	if in.Password != in.ConfirmPassword {
		return errPasswordMismatch
	}
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Length(2, 50)),
		validation.Field(&in.Lastname, validation.Length(2, 50)),
		validation.Field(&in.Email, validation.Length(3, 254), is.Email),
		validation.Field(&in.Password, passwordRules...),
	)
	if err != nil {
		return domain.ErrValidation.WithMessage(err.Error())
	}
	if in.Image == nil {
		if requireAvatar {
			return domain.ErrValidation.WithMessage("image is required")
		}
		return nil
	}
	return validateImage(in.Image)
}

var passwordRules = []validation.Rule{
	validation.Length(passwordMin, passwordMax),
	validation.By(passwordClasses),
}

func passwordClasses(value interface{}) error {
	s, _ := value.(string)
	var upper, lower, digit, special bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(specialChars, r):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return errors.New("must contain an upper-case letter, a lower-case letter, a digit and one of " + specialChars)
	}
	return nil
}

func validatePassword(password, confirm string) error {
	if blank(password, confirm) {
		return domain.ErrValidation
	}
	if password != confirm {
		return errPasswordMismatch
	}
	if err := validation.Validate(password, passwordRules...); err != nil {
		return domain.ErrValidation.WithMessage("password: " + err.Error())
	}
	return nil
}

func validateImage(u *Upload) error {
	if _, ok := allowedImageTypes[u.ContentType]; !ok {
		return domain.ErrValidation.WithMessage("image must be jpg, png, webp or avif")
	}
	if u.Size <= 0 || u.Size > MaxAvatarBytes {
		return domain.ErrValidation.WithMessage("image must be at most 5 MiB")
	}
	return nil
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
