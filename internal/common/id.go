package common

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewIngestionID generates a unique ingestion ID with the "ing_" prefix
func NewIngestionID() string {
	return "ing_" + uuid.New().String()
}

// NewReportID generates a unique conflict report ID with the "rep_" prefix
func NewReportID() string {
	return "rep_" + uuid.New().String()
}

// NewProposalID generates a unique reframing proposal ID with the "prop_" prefix
func NewProposalID() string {
	return "prop_" + uuid.New().String()
}

// NewBlockID generates a unique manuscript block ID with the "blk_" prefix
func NewBlockID() string {
	return "blk_" + uuid.New().String()
}

// NewManifestID generates a unique artifact manifest ID with the "art_" prefix
func NewManifestID() string {
	return "art_" + uuid.New().String()
}

// NewProjectID generates a unique project ID with the "proj_" prefix
func NewProjectID() string {
	return "proj_" + uuid.New().String()
}

// ClaimID computes the deterministic claim ID from the claim content and its
// evidence anchor. Stable across reprocessing runs of the same document.
func ClaimID(subject, predicate, object, docHash string, page int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d", subject, predicate, object, docHash, page)))
	return "clm_" + hex.EncodeToString(sum[:])[:32]
}

// ChunkID computes the deterministic chunk ID: SHA-256(file_hash|page|chunk_index)
func ChunkID(fileHash string, page, chunkIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", fileHash, page, chunkIndex)))
	return hex.EncodeToString(sum[:])
}

// HashTemplate returns the lowercase hex SHA-256 of a prompt template.
func HashTemplate(template string) string {
	sum := sha256.Sum256([]byte(template))
	return hex.EncodeToString(sum[:])
}
