package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfigKey(t *testing.T) {
	for _, key := range []string{
		"model.url",
		"cache.dir",
		"genomes.hg19",
		"genomes.hg38",
		"genomes.mm10",
	} {
		assert.NoError(t, validateConfigKey(key), key)
	}

	for _, key := range []string{
		"",
		"model",
		"model.endpoint",
		"genome.hg19",
		"genomes.",
		"cache.directory",
		"workers",
	} {
		assert.Error(t, validateConfigKey(key), key)
	}
}

func TestValidateConfigKey_ErrorNamesKnownKeys(t *testing.T) {
	err := validateConfigKey("modle.url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.url")
	assert.Contains(t, err.Error(), "genomes.<build>")
}
