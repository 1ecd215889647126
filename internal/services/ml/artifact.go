package ml

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	modelSuffix = "_model.gob"
	scalerFile  = "scaler.gob"
)

var ErrArtifactCorrupt = errors.New("model artifact is corrupt")

// ModelPath is the artifact location for a slot under dir.
func ModelPath(dir string, slot SlotName) string {
	return filepath.Join(dir, string(slot)+modelSuffix)
}

// ScalerPath is the artifact location for the shared scaler under dir.
func ScalerPath(dir string) string {
	return filepath.Join(dir, scalerFile)
}

// artifactFile is the on-disk envelope around a marshalled model.
type artifactFile struct {
	Kind     string
	Checksum string
	Data     []byte
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// writeArtifact stores p at path through a temp file so readers never see a
// partial write.
func writeArtifact(path, kind string, p Persistable) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(artifactFile{Kind: kind, Checksum: checksum(data), Data: data}); err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// readArtifact restores p from path. A missing file is reported with an
// error matching os.ErrNotExist.
func readArtifact(path, kind string, p Persistable) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var af artifactFile
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&af); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArtifactCorrupt, path, err)
	}
	if af.Kind != kind {
		return fmt.Errorf("%w: %s holds %q, want %q", ErrArtifactCorrupt, path, af.Kind, kind)
	}
	if af.Checksum != checksum(af.Data) {
		return fmt.Errorf("%w: %s checksum mismatch", ErrArtifactCorrupt, path)
	}
	if err := p.UnmarshalBinary(af.Data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArtifactCorrupt, path, err)
	}
	return nil
}
