package configver

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"relayd/internal/relay"
)

// Bundle packs the relay's config folder for serial into a tar archive.
// Paths inside the archive are relative to the folder. A missing folder
// yields a valid empty archive.
func (t *Tracker) Bundle(serial relay.Serial, relayID relay.RelayID) ([]byte, error) {
	if !safeComponent(string(serial)) || !safeComponent(string(relayID)) {
		return nil, fmt.Errorf("invalid config location %q/%q", serial, relayID)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	root := t.ConfigDir(serial, relayID)
	if _, err := os.Stat(root); err == nil {
		if err := addTree(tw, root); err != nil {
			return nil, fmt.Errorf("failed to pack %s: %w", root, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

func addTree(tw *tar.Writer, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		// symlinks and devices are not part of a config bundle
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}
