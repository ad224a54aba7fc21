package validation

import (
	"fmt"
	"unicode/utf8"
)

// Input length limits to prevent resource exhaustion
const (
	MaxNameLength    = 255
	MaxPhoneLength   = 20      // International E.164 format
	MaxMessageLength = 100000  // 100KB for message content
	MaxURLLength     = 2048    // Standard browser URL limit
	MaxCaptionLength = 1024    // Gateway caption limit
)

// ValidateName validates a contact name length
func ValidateName(name string) error {
	if name == "" {
		return nil // Empty names are allowed (field is optional in some contexts)
	}

	length := utf8.RuneCountInString(name)
	if length > MaxNameLength {
		return fmt.Errorf("name exceeds maximum length of %d characters (got %d)", MaxNameLength, length)
	}

	return nil
}

// ValidatePhone validates a phone number length
func ValidatePhone(phone string) error {
	if phone == "" {
		return nil // Empty phone numbers are allowed (field is optional in some contexts)
	}

	length := utf8.RuneCountInString(phone)
	if length > MaxPhoneLength {
		return fmt.Errorf("phone number exceeds maximum length of %d characters (got %d)", MaxPhoneLength, length)
	}

	return nil
}

// ValidateMessageContent validates message content length
// Note: Empty content is allowed (e.g., media-only messages).
// Callers should check if content is required before calling this function.
func ValidateMessageContent(content string) error {
	if content == "" {
		return nil // Empty content is allowed for media-only messages
	}

	// Use byte length for message content as it's transmitted as UTF-8
	length := len(content)
	if length > MaxMessageLength {
		return fmt.Errorf("message content exceeds maximum size of %d bytes (got %d)", MaxMessageLength, length)
	}

	return nil
}

// ValidateCaption validates a media caption length
func ValidateCaption(caption string) error {
	if caption == "" {
		return nil
	}

	length := utf8.RuneCountInString(caption)
	if length > MaxCaptionLength {
		return fmt.Errorf("caption exceeds maximum length of %d characters (got %d)", MaxCaptionLength, length)
	}

	return nil
}

// ValidateMediaURL validates a media URL length
func ValidateMediaURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("media URL cannot be empty")
	}

	if len(rawURL) > MaxURLLength {
		return fmt.Errorf("media URL exceeds maximum length of %d characters (got %d)", MaxURLLength, len(rawURL))
	}

	return nil
}

// ValidatePhoneFormat validates phone number format (basic validation).
// Returns nil for empty phones (optional field).
// Allows digits, spaces, dashes, parentheses, and leading +.
func ValidatePhoneFormat(phone string) error {
	if phone == "" {
		return nil
	}
	// Basic validation: must contain only allowed characters
	// Pattern: optional +, then digits with optional separators
	for i, r := range phone {
		if r == '+' && i == 0 {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == ' ' || r == '-' || r == '(' || r == ')' {
			continue
		}
		return fmt.Errorf("invalid phone format: contains invalid character '%c'", r)
	}
	return nil
}
