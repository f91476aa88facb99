package core

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o660))
	return path
}

func TestCatConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	p1 := writeFile(t, dir, "chunk.1", "012")
	p2 := writeFile(t, dir, "chunk.2", "345")
	p3 := writeFile(t, dir, "chunk.3", "f")

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	c := NewCat(log)

	go func() {
		c.Paths() <- &p1
		c.Paths() <- &p2
		c.Paths() <- &p3
		c.Close()
	}()

	out, err := io.ReadAll(c)
	require.NoError(t, err)
	require.Equal(t, "012345f", string(out))
	require.Equal(t, int64(7), c.Written())
}

func TestCatEmptyStreamYieldsEOF(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	c := NewCat(log)
	c.Close()

	out, err := io.ReadAll(c)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestCatRetriesOnNotYetLinkedFile(t *testing.T) {
	dir := t.TempDir()
	pending := filepath.Join(dir, "chunk.1")

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	c := NewCat(log)

	go func() {
		c.Paths() <- &pending
		c.Close()
	}()

	go func() {
		_ = os.WriteFile(pending, []byte("late"), 0o660)
	}()

	out, err := io.ReadAll(c)
	require.NoError(t, err)
	require.Equal(t, "late", string(out))
}
