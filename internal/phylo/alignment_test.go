package phylo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDNAMapsBasesAndAmbiguity(t *testing.T) {
	t.Parallel()
	got := EncodeDNA("ACGTacgtNn-")
	want := []int32{0, 1, 2, 3, 0, 1, 2, 3, 4, 4, 4}
	assert.Equal(t, want, got)
}

func TestReadFastaParsesMultipleSequences(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "aln.fasta")
	content := ">seqA\nACGT\n>seqB\nAC\nGT\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	aln, err := ReadFasta(path)
	require.NoError(t, err)

	assert.Equal(t, 4, aln.SiteCount)
	require.Contains(t, aln.Sequences, "seqA")
	require.Contains(t, aln.Sequences, "seqB")
	assert.Equal(t, []int32{0, 1, 2, 3}, aln.Sequences["seqA"])
	assert.Equal(t, []int32{0, 1, 2, 3}, aln.Sequences["seqB"])
}

func TestReadFastaRejectsMismatchedLengths(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "aln.fasta")
	content := ">seqA\nACGT\n>seqB\nAC\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := ReadFasta(path)
	require.Error(t, err)
}

func TestReadFastaRejectsMissingFile(t *testing.T) {
	t.Parallel()
	_, err := ReadFasta("/nonexistent/path/aln.fasta")
	require.Error(t, err)
}

func TestReadFastaRejectsEmptyFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.fasta")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	_, err := ReadFasta(path)
	require.Error(t, err)
}
