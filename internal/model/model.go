package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DateLayout is the format of Memory.Date.
	DateLayout = "2006-01-02"

	maxNameLength = 255
)

// Memory is a single record owned by one user.
//
// The DynamoDB attribute names predate the API field names and are kept so
// existing items stay readable. OwnerID and CreatedAt form the table key;
// ID is the identity exposed to clients.
type Memory struct {
	OwnerID   string `json:"ownerId" dynamodbav:"userId"`
	ID        string `json:"recordId" dynamodbav:"memoryId"`
	CreatedAt string `json:"createdAt" dynamodbav:"createdAt"`
	Name      string `json:"name" dynamodbav:"name"`
	Date      string `json:"recordDate" dynamodbav:"memoryDate"`
	Favorite  bool   `json:"favorite" dynamodbav:"favorite"`
	// AttachmentURL holds an object key when stored and a presigned read URL
	// when returned to a client. A resolved URL is never written back.
	AttachmentURL string `json:"attachmentUrl" dynamodbav:"attachmentUrl"`
}

// CreateMemoryRequest is the body of POST /memories.
type CreateMemoryRequest struct {
	Name          string `json:"name"`
	Date          string `json:"recordDate"`
	Favorite      bool   `json:"favorite,omitempty"`
	AttachmentKey string `json:"attachmentKey,omitempty"`
}

// MemoryUpdate is the body of PATCH /memories/{id}. All fields are replaced.
type MemoryUpdate struct {
	Name     string `json:"name"`
	Date     string `json:"recordDate"`
	Favorite bool   `json:"favorite"`
}

// Validate checks the user-supplied fields.
func (r CreateMemoryRequest) Validate() error {
	if err := validateNameAndDate(r.Name, r.Date); err != nil {
		return err
	}
	if strings.Contains(r.AttachmentKey, "://") {
		return errors.New("attachmentKey must be an object key, not a URL")
	}
	return nil
}

// Validate checks the user-supplied fields.
func (u MemoryUpdate) Validate() error {
	return validateNameAndDate(u.Name, u.Date)
}

func validateNameAndDate(name, date string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("name too long (max %d characters)", maxNameLength)
	}
	if date == "" {
		return errors.New("recordDate is required")
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("recordDate must be YYYY-MM-DD: %q", date)
	}
	return nil
}
