package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
)

const (
	slugAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// 10 base62 symbols carry ~59.5 bits.
	SlugLength  = 10
	slugRetries = 5
)

var ErrSlugCollision = errors.New("slug collision after retries")

// GenSlug draws random base62 slugs until exists reports a free one.
func GenSlug(exists func(string) (bool, error)) (string, error) {
	for retry := 0; retry < slugRetries; retry++ {
		slug, err := gonanoid.Generate(slugAlphabet, SlugLength)
		if err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		taken, err := exists(slug)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
	}
	return "", ErrSlugCollision
}

// ValidSlug rejects path parameters that could never have been generated.
func ValidSlug(s string) bool {
	if len(s) != SlugLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}
