package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDataRootPath(t *testing.T) {
	resolved, err := ResolveDataRootPath("/tmp/tapagent-data")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/tapagent-data", resolved)

	fallback, err := ResolveDataRootPath("  ")
	require.NoError(t, err)
	assert.Contains(t, fallback, ".tapagent")
}

func TestValidateCollection(t *testing.T) {
	assert.NoError(t, ValidateCollection(EnrollmentsCollection("m1")))
	assert.NoError(t, ValidateCollection(CollectionSchedules))
	assert.Error(t, ValidateCollection(""))
	assert.Error(t, ValidateCollection("merchants//agentsenrolled"))
	assert.Error(t, ValidateCollection("merchants/../x"))
}

func TestValidateDocID(t *testing.T) {
	assert.NoError(t, ValidateDocID("email-summary"))
	assert.Error(t, ValidateDocID("a/b"))
	assert.Error(t, ValidateDocID(".."))
	assert.Error(t, ValidateDocID(""))
}
