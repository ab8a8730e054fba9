package integration

import (
	"github.com/google/uuid"
)

// TestUserID generates a unique user identifier for a test case
func TestUserID() string {
	return uuid.NewString()
}

// PDFStub returns a minimal payload that sniffs as application/pdf
func PDFStub() []byte {
	return []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
}
