package mailbox

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// MaxWorkspaceIDLength matches the width of the workspace_id column.
const MaxWorkspaceIDLength = 50

// ValidateWorkspaceID checks that a workspace id is usable as a partition key.
// Valid ids are non-empty, at most MaxWorkspaceIDLength characters, and free
// of path separators, wildcards, colons, whitespace and control characters.
func ValidateWorkspaceID(workspaceID string) error {
	if workspaceID == "" {
		return &ValidationError{Field: "workspace_id", Message: "must not be empty"}
	}
	if utf8.RuneCountInString(workspaceID) > MaxWorkspaceIDLength {
		return &ValidationError{
			Field:   "workspace_id",
			Message: fmt.Sprintf("exceeds %d characters", MaxWorkspaceIDLength),
		}
	}
	if !utf8.ValidString(workspaceID) {
		return &ValidationError{Field: "workspace_id", Message: "must be valid UTF-8"}
	}
	for _, c := range workspaceID {
		if c == '*' || c == ':' || c == '/' || c == '\\' ||
			c == ' ' || c == '\t' || c == '\n' || c == '\r' ||
			c < 32 || c == 127 {
			return &ValidationError{
				Field:   "workspace_id",
				Message: fmt.Sprintf("contains invalid character %q", c),
			}
		}
	}
	return nil
}

// ValidateMessageID rejects ids that can never have been assigned.
func ValidateMessageID(id int64) error {
	if id <= 0 {
		return &ValidationError{Field: "message_id", Message: "must be a positive integer"}
	}
	return nil
}

// ParseMessageID parses a decimal message id as it appears in a URL path.
func ParseMessageID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "message_id", Message: fmt.Sprintf("%q is not an integer", s)}
	}
	if err := ValidateMessageID(id); err != nil {
		return 0, err
	}
	return id, nil
}
